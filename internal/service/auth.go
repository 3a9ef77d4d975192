// Package service — authentication business logic.
//
// AuthService sits between the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// KEY RESPONSIBILITIES:
//   - Password login: email + password in, bearer token out
//   - Resolve a verified token subject to an active user
//   - The superuser gate for privileged operations
//   - GitHub login for accounts that already exist
//   - Bootstrap the first superuser on an empty install
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/model"
	"github.com/sakif/crud-boilerplate/internal/repository"
)

// TokenTypeBearer is the token_type value returned with every access token.
const TokenTypeBearer = "bearer"

// Failure messages. Unknown email and wrong password share one message so a
// caller cannot probe which addresses have accounts.
const (
	msgBadCredentials = "incorrect email or password"
	msgInactiveUser   = "inactive user"
	msgNotSuperuser   = "insufficient privileges"
	msgBadToken       = "could not validate credentials"
)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue JWTs
//   - passwords  *auth.PasswordService      → bcrypt verify
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger

	// dummyHash is compared against on the unknown-email path. It is hashed
	// with the same cost as real passwords.
	dummyHash string
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	dummy, _ := passwords.Hash(xid.New().String())
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		dummyHash: dummy,
	}
}

// AuthResult is returned by the login operations. AccessToken and TokenType
// are what the client sees; User is for logging and tests.
type AuthResult struct {
	AccessToken string
	TokenType   string
	User        *model.User
}

// Authenticate runs the password login flow.
//
//  1. Look up the user by email. Not found → Unauthorized.
//  2. Verify the password. Mismatch → the same Unauthorized.
//  3. Inactive → Forbidden.
//  4. Issue a token whose subject is the user ID.
//
// The active check comes after the password check, so "inactive user" is
// only ever revealed to someone who knows the password.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Same bcrypt cost as the wrong-password path.
			s.passwords.Verify(s.dummyHash, password)
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !s.passwords.Verify(user.HashedPassword, password) {
		s.logger.Info("login failed", slog.String("userID", user.ID))
		return nil, apperror.Unauthorized(msgBadCredentials)
	}

	if !user.IsActive {
		return nil, apperror.Forbidden(msgInactiveUser)
	}

	return s.issue(user)
}

// CurrentUser resolves the subject of an already verified token to the user
// it names. A subject that no longer exists is Unauthorized (the token is
// stale), an inactive account is Forbidden.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized(msgBadToken)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadToken)
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	if !user.IsActive {
		return nil, apperror.Forbidden(msgInactiveUser)
	}
	return user, nil
}

// RequireSuperuser is the gate in front of privileged operations.
func (s *AuthService) RequireSuperuser(user *model.User) error {
	if user == nil || !user.IsSuperuser {
		return apperror.Forbidden(msgNotSuperuser)
	}
	return nil
}

// LoginWithGitHub issues a token for the account whose email matches the
// GitHub profile's primary email.
//
// GitHub login never creates accounts: signup stays the only way in, and
// the GitHub identity is just another proof of owning the email.
func (s *AuthService) LoginWithGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil || ghUser.Email == "" {
		return nil, apperror.Unauthorized("github account has no verified email")
	}

	user, err := s.users.GetByEmail(ctx, strings.ToLower(ghUser.Email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("no account is registered for this github email")
		}
		return nil, fmt.Errorf("service/auth: looking up github user: %w", err)
	}

	if !user.IsActive {
		return nil, apperror.Forbidden(msgInactiveUser)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", ghUser.Login),
	)
	return s.issue(user)
}

// EnsureSuperuser creates the bootstrap superuser unless an account with
// that email already exists. It returns true when a user was created.
//
// Called once from main with APP_FIRST_SUPERUSER_EMAIL/_PASSWORD. An existing
// account is left exactly as it is, even if it is not a superuser.
func (s *AuthService) EnsureSuperuser(ctx context.Context, users *UserService, email, password string) (bool, error) {
	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return false, fmt.Errorf("service/auth: checking bootstrap superuser: %w", err)
	}

	user, err := users.Create(ctx, email, "Administrator", password, true)
	if err != nil {
		// Another instance won the race; that is the outcome we wanted.
		if errors.Is(err, apperror.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("service/auth: creating bootstrap superuser: %w", err)
	}

	s.logger.Info("bootstrap superuser created", slog.String("userID", user.ID))
	return true, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		User:        user,
	}, nil
}
