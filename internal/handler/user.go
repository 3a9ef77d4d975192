package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/service"
)

const (
	avatarPath   = "avatars"
	avatarURLTTL = 15 * time.Minute
	queryLimit   = "limit"
	queryOffset  = "offset"
)

// AvatarStore is the slice of the object storage client the avatar upload
// needs. *storage.Client satisfies it.
type AvatarStore interface {
	UploadBase64Image(ctx context.Context, path, name, encoded string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// UserHandler serves the /users routes.
//
// avatars is nil when object storage is not configured; the avatar route
// then answers 404.
type UserHandler struct {
	users   *service.UserService
	avatars AvatarStore
	logger  *slog.Logger
}

func NewUserHandler(users *service.UserService, avatars AvatarStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		avatars: avatars,
		logger:  logger,
	}
}

// CreateUserRequest is the signup body.
type CreateUserRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
	IsSuperuser bool   `json:"is_superuser"`
}

// UpdateUserRequest is the profile update body. All three fields are
// written; there is no partial update.
type UpdateUserRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	IsSuperuser bool   `json:"is_superuser"`
}

// AvatarRequest carries a base64 PNG, optionally as a data URL.
type AvatarRequest struct {
	Image string `json:"image"`
}

type AvatarResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// HandleCreate signs up a new user.
//
// HTTP: POST /v1/users
// RESPONSE: 201 with the user (no password), 409 if the email is taken.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, req.FullName, req.Password, req.IsSuperuser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleList returns a page of users.
//
// HTTP: GET /v1/users?limit=100&offset=0
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// HandleMe returns the authenticated user.
//
// HTTP: GET /v1/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := mustCurrentUser(w, r, h.logger)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdate replaces a user's profile fields.
//
// HTTP: PUT /v1/users/{id}
//
// Any authenticated user may update any profile; the route only requires a
// valid token. An unknown id is 404 and never creates a record.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.Update(r.Context(), id, req.Email, req.FullName, req.IsSuperuser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if caller, ok := CurrentUser(r.Context()); ok && caller.ID != user.ID {
		h.logger.Info("profile updated by another user",
			slog.String("userID", user.ID),
			slog.String("by", caller.ID),
		)
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleEmailList returns email addresses only. Superusers only.
//
// HTTP: GET /v1/users/email-list?limit=100&offset=0
func (h *UserHandler) HandleEmailList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	emails, err := h.users.ListEmails(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, emails)
}

// HandleAvatar stores the caller's avatar and returns a short-lived URL
// to it.
//
// HTTP: PUT /v1/users/me/avatar
// BODY: {"image": "<base64 PNG>"}
//
// Each upload gets a fresh key, so a cached URL never shows a stale image.
func (h *UserHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeError(w, h.logger, &apperror.AppError{Err: apperror.ErrNotFound, Message: "avatar storage is not enabled"})
		return
	}

	user, ok := mustCurrentUser(w, r, h.logger)
	if !ok {
		return
	}

	var req AvatarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	name := user.ID + "-" + xid.New().String()
	key, err := h.avatars.UploadBase64Image(r.Context(), avatarPath, name, req.Image)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	url, err := h.avatars.PresignGet(r.Context(), key, avatarURLTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("avatar uploaded", slog.String("userID", user.ID), slog.String("key", key))
	writeJSON(w, http.StatusOK, AvatarResponse{Key: key, URL: url})
}

// pagination reads ?limit and ?offset. Absent means 0 (the service applies
// defaults); present but not an integer is a 400.
func pagination(r *http.Request) (int, int, error) {
	limit, err := intQuery(r, queryLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intQuery(r, queryOffset)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
