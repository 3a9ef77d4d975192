// Package storage is the object storage client: JSON documents and images
// in an S3 bucket (AWS or any S3-compatible server such as MinIO).
//
// Keys follow "<path>/<name>.<ext>": UploadJSON("profiles", "u1", v) writes
// "profiles/u1.json". An empty path writes "u1.json" at the bucket root.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sakif/crud-boilerplate/internal/apperror"
)

// ErrObjectNotFound is returned by GetJSONContent when the key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Config selects the bucket and how to reach it. Endpoint, AccessKey and
// SecretKey are optional: without them the AWS default chain (env vars,
// shared config, instance role) is used against real S3.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Client wraps the SDK client and a presigner bound to one bucket.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// New builds a Client. It makes no network calls.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// MinIO and friends serve buckets as paths, not subdomains.
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// Send plain bodies; checksums are added only where S3 demands them.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Client{
		api:     api,
		presign: s3.NewPresignClient(api),
		bucket:  cfg.Bucket,
	}, nil
}

// Bucket returns the bucket this client writes to.
func (c *Client) Bucket() string {
	return c.bucket
}

// UploadJSON marshals v and stores it at <path>/<name>.json.
func (c *Client) UploadJSON(ctx context.Context, path, name string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("storage: encoding %s: %w", name, err)
	}

	key := objectKey(path, name, "json")
	if err := c.put(ctx, key, "application/json", body); err != nil {
		return "", err
	}
	return key, nil
}

// UploadBase64Image decodes a base64 PNG and stores it at <path>/<name>.png.
// Input that is not base64 is a validation error; nothing is uploaded.
func (c *Client) UploadBase64Image(ctx context.Context, path, name, encoded string) (string, error) {
	data, err := decodeBase64(encoded)
	if err != nil {
		return "", apperror.ValidationFailed("image", "image is not valid base64")
	}
	if len(data) == 0 {
		return "", apperror.ValidationFailed("image", "image is empty")
	}

	key := objectKey(path, name, "png")
	if err := c.put(ctx, key, "image/png", data); err != nil {
		return "", err
	}
	return key, nil
}

// GetJSONContent reads <path>/<name>.json into dst.
func (c *Client) GetJSONContent(ctx context.Context, path, name string, dst any) error {
	key := objectKey(path, name, "json")

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("storage: getting %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := json.NewDecoder(out.Body).Decode(dst); err != nil {
		return fmt.Errorf("storage: decoding %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for key. The URL is signed
// locally; no request is made.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presigning %s: %w", key, err)
	}
	return req.URL, nil
}

func (c *Client) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("storage: putting %s: %w", key, err)
	}
	return nil
}

func objectKey(path, name, ext string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return name + "." + ext
	}
	return path + "/" + name + "." + ext
}

// decodeBase64 accepts standard base64 with or without padding, and strips
// a "data:image/png;base64," prefix if the client sent a data URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
