package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/model"
	"github.com/sakif/crud-boilerplate/internal/service"
)

type ctxKey struct{}

// Gateway holds the middleware that turns a verified token into a user.
//
// MIDDLEWARE ORDER on a protected route:
//
//	auth.RequireAuth      → token present, signed, unexpired      (else 401)
//	Gateway.RequireUser   → subject exists and is active          (else 401 / 403)
//	Gateway.RequireSuperuser (privileged routes only)             (else 403)
type Gateway struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewGateway(authService *service.AuthService, logger *slog.Logger) *Gateway {
	return &Gateway{auth: authService, logger: logger}
}

// RequireUser loads the token's subject and stores the user in the request
// context. It must run after auth.RequireAuth.
func (g *Gateway) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserIDFromContext(r.Context())

		user, err := g.auth.CurrentUser(r.Context(), userID)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSuperuser rejects any user without the superuser flag.
// It must run after RequireUser.
func (g *Gateway) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := CurrentUser(r.Context())
		if err := g.auth.RequireSuperuser(user); err != nil {
			g.logger.Warn("privileged route denied",
				slog.String("path", r.URL.Path),
				slog.String("userID", userIDOf(user)),
			)
			writeError(w, g.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the user stored by RequireUser.
func CurrentUser(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(*model.User)
	return user, ok && user != nil
}

// mustCurrentUser is for handlers mounted behind RequireUser. A missing user
// there is a routing bug, answered as 401 rather than a panic.
func mustCurrentUser(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*model.User, bool) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		logger.Error("handler reached without RequireUser", slog.String("path", r.URL.Path))
		writeError(w, logger, apperror.Unauthorized("could not validate credentials"))
		return nil, false
	}
	return user, true
}

func userIDOf(u *model.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
