// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository interfaces, never a concrete *sqlite.DB or
// *postgres.DB. main.go decides which backend to plug in; tests plug in an
// in-memory fake (see user_test.go).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/model"
	"github.com/sakif/crud-boilerplate/internal/repository"
)

const (
	MaxFullNameLength = 255
	MaxEmailLength    = 254 // RFC 5321 path limit
	DefaultListLimit  = 100
	MaxListLimit      = 1000
)

// UserService handles the user account lifecycle: signup, lookup, listing
// and profile updates.
type UserService struct {
	repo      repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewUserService(repo repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *UserService {
	return &UserService{
		repo:      repo,
		passwords: passwords,
		logger:    logger,
	}
}

// Create validates the signup fields, hashes the password and stores the user.
//
// The plaintext password lives only for the duration of this call. What
// reaches the repository is the bcrypt hash.
//
// A duplicate email comes back from the repository as apperror.ErrConflict
// and is returned as-is.
func (s *UserService) Create(ctx context.Context, email, fullName, password string, isSuperuser bool) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	fullName, err = validateFullName(fullName)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes))
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Email:          email,
		FullName:       fullName,
		HashedPassword: hash,
		IsSuperuser:    isSuperuser,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		slog.String("id", user.ID),
		slog.Bool("superuser", user.IsSuperuser),
	)
	return user, nil
}

// GetByID returns apperror.ErrNotFound if the user doesn't exist.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// List returns a page of users in signup order.
// limit is clamped to 1..MaxListLimit (0 or negative means DefaultListLimit).
func (s *UserService) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	opts := pageOptions(limit, offset)

	users, err := s.repo.List(ctx, opts)
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// ListEmails is the privileged projection of List: email addresses only.
func (s *UserService) ListEmails(ctx context.Context, limit, offset int) ([]string, error) {
	users, err := s.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	return emails, nil
}

// Update replaces the profile fields of an existing user.
//
// STRATEGY: fetch, apply, save. The fetch gives a NotFound before any
// write happens, so an unknown ID can never create a record. Password and
// active flag are not part of the update path.
func (s *UserService) Update(ctx context.Context, id, email, fullName string, isSuperuser bool) (*model.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	fullName, err = validateFullName(fullName)
	if err != nil {
		return nil, err
	}

	user.Email = email
	user.FullName = fullName
	user.IsSuperuser = isSuperuser

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user updated", slog.String("id", user.ID))
	return user, nil
}

// normalizeEmail trims and lowercases email and checks it is a bare address
// ("a@x.com", not "A <a@x.com>").
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}

func validateFullName(fullName string) (string, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return "", apperror.ValidationFailed("full_name", "full name is required")
	}
	if len(fullName) > MaxFullNameLength {
		return "", apperror.ValidationFailed("full_name",
			fmt.Sprintf("full name must be %d characters or less", MaxFullNameLength))
	}
	return fullName, nil
}

func pageOptions(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}
