package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/service"
)

const stateCookieName = "oauth_state"

// GitHubExchanger is the part of auth.GitHubProvider the handler needs.
// Tests swap in a fake so no request ever leaves the process.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// TokenResponse is the body of every successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthHandler issues access tokens.
//
// HANDLER RESPONSIBILITIES:
//   - HandleAccessToken    → OAuth2 password grant: form email + password in, bearer token out
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → exchange the code, log in the matching account
//
// github is nil when GitHub login is not configured; both GitHub routes
// then answer 404.
type AuthHandler struct {
	auth   *service.AuthService
	github GitHubExchanger
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. Pass a nil github to disable
// GitHub login.
func NewAuthHandler(authService *service.AuthService, github GitHubExchanger, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   authService,
		github: github,
		logger: logger,
	}
}

// HandleAccessToken logs a user in with email and password.
//
// HTTP: POST /v1/auth/access-token
// BODY: application/x-www-form-urlencoded, username=<email>&password=<password>
//
// The form field is called "username" because that is what OAuth2 password
// grant clients send. Here it always holds an email.
//
// Every login failure answers 400, including an inactive account. A token
// endpoint reports a rejected grant as a bad request, not as 401.
func (h *AuthHandler) HandleAccessToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("body", "request body is not a valid form"))
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if email == "" {
		writeError(w, h.logger, apperror.ValidationFailed("username", "username is required"))
		return
	}
	if password == "" {
		writeError(w, h.logger, apperror.ValidationFailed("password", "password is required"))
		return
	}

	result, err := h.auth.Authenticate(r.Context(), email, password)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) &&
			(errors.Is(err, apperror.ErrUnauthorized) || errors.Is(err, apperror.ErrForbidden)) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_grant",
				Message: appErr.Message,
			})
			return
		}
		writeError(w, h.logger, err)
		return
	}

	writeToken(w, result)
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /v1/auth/github/login
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When GitHub calls back, HandleGitHubCallback verifies the state matches.
//
// The state cookie is:
//   - HttpOnly: JavaScript can't read it
//   - SameSite=Lax: sent on the top-level redirect back from GitHub
//   - 10-minute expiry: long enough for the user to approve
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, h.logger, &apperror.AppError{Err: apperror.ErrNotFound, Message: "github login is not enabled"})
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /v1/auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile with a verified email
//  3. Find the account with that email and issue a bearer token
//
// The response is the same JSON a password login returns.
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, h.logger, &apperror.AppError{Err: apperror.ErrNotFound, Message: "github login is not enabled"})
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, h.logger, apperror.ValidationFailed("state", "invalid oauth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// GitHub reports a denied authorization as ?error=access_denied.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		writeError(w, h.logger, apperror.ValidationFailed("code", "github authorization was denied"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.ValidationFailed("code", "missing oauth code"))
		return
	}

	// --- Step 2: Exchange code for a GitHub profile ---
	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "upstream_error",
			Message: "github authentication failed",
		})
		return
	}

	// --- Step 3: Log in the matching account ---
	result, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeToken(w, result)
}

func writeToken(w http.ResponseWriter, result *service.AuthResult) {
	// Tokens must never end up in a shared cache.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
	})
}
