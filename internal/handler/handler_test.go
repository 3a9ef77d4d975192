package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/handler"
	"github.com/sakif/crud-boilerplate/internal/model"
	"github.com/sakif/crud-boilerplate/internal/repository/sqlite"
	"github.com/sakif/crud-boilerplate/internal/service"
)

// testEnv wires real services on an in-memory SQLite database, so handler
// tests exercise the same code paths as production minus the router.
type testEnv struct {
	db      *sqlite.DB
	users   *service.UserService
	auth    *service.AuthService
	gateway *handler.Gateway
	logger  *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", "HS256", time.Hour)
	require.NoError(t, err)
	passwords := auth.NewPasswordServiceForTest(4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authSvc := service.NewAuthService(db, tokens, passwords, logger)
	return &testEnv{
		db:      db,
		users:   service.NewUserService(db, passwords, logger),
		auth:    authSvc,
		gateway: handler.NewGateway(authSvc, logger),
		logger:  logger,
	}
}

func (e *testEnv) createUser(t *testing.T, email string, superuser bool) *model.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), email, "Test User", "secret", superuser)
	require.NoError(t, err)
	return u
}

// asUser runs h behind RequireUser with userID already placed in the
// context, as auth.RequireAuth would after verifying a token.
func (e *testEnv) asUser(userID string, h http.Handler) http.Handler {
	inner := e.gateway.RequireUser(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/access-token", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// =========================================================================
// AUTH HANDLER
// =========================================================================

func TestHandleAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "a@x.com", false)
	sleepy := env.createUser(t, "sleepy@x.com", false)
	require.NoError(t, env.db.SetActive(context.Background(), sleepy.ID, false))

	h := handler.NewAuthHandler(env.auth, nil, env.logger)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.HandleAccessToken(rr, formRequest(url.Values{"username": {"a@x.com"}, "password": {"secret"}}))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

		var body handler.TokenResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "bearer", body.TokenType)
		assert.Equal(t, 2, strings.Count(body.AccessToken, "."), "compact JWS has three segments")
	})

	tests := []struct {
		name     string
		form     url.Values
		wantType string
		wantMsg  string
	}{
		{"wrong password", url.Values{"username": {"a@x.com"}, "password": {"wrong"}}, "invalid_grant", "incorrect email or password"},
		{"unknown email", url.Values{"username": {"nobody@x.com"}, "password": {"secret"}}, "invalid_grant", "incorrect email or password"},
		{"inactive user", url.Values{"username": {"sleepy@x.com"}, "password": {"secret"}}, "invalid_grant", "inactive user"},
		{"missing username", url.Values{"password": {"secret"}}, "validation_error", "username is required"},
		{"missing password", url.Values{"username": {"a@x.com"}}, "validation_error", "password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.HandleAccessToken(rr, formRequest(tt.form))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, tt.wantType, body.Error)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}

// fakeGitHub implements handler.GitHubExchanger.
type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(_ context.Context, _ string) (*auth.GitHubUser, error) {
	return f.user, f.err
}

func callbackRequest(state, cookieState, code string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/github/callback?state="+state+"&code="+code, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: cookieState})
	}
	return req
}

func TestGitHubLogin(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "octocat@github.com", false)

	t.Run("disabled", func(t *testing.T) {
		h := handler.NewAuthHandler(env.auth, nil, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubLogin(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/github/login", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("s", "s", "c"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("redirect sets state cookie", func(t *testing.T) {
		h := handler.NewAuthHandler(env.auth, &fakeGitHub{}, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubLogin(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/github/login", nil))

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "oauth_state", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Contains(t, rr.Header().Get("Location"), "state="+cookies[0].Value)
	})

	t.Run("state mismatch", func(t *testing.T) {
		h := handler.NewAuthHandler(env.auth, &fakeGitHub{}, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("attacker", "mine", "c"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("mine", "", "c"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		h := handler.NewAuthHandler(env.auth, &fakeGitHub{err: errors.New("github down")}, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("s", "s", "c"))
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		gh := &fakeGitHub{user: &auth.GitHubUser{ID: 1, Login: "stranger", Email: "stranger@x.com"}}
		h := handler.NewAuthHandler(env.auth, gh, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("s", "s", "c"))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("success", func(t *testing.T) {
		gh := &fakeGitHub{user: &auth.GitHubUser{ID: 42, Login: "octocat", Email: "octocat@github.com"}}
		h := handler.NewAuthHandler(env.auth, gh, env.logger)

		rr := httptest.NewRecorder()
		h.HandleGitHubCallback(rr, callbackRequest("s", "s", "c"))

		require.Equal(t, http.StatusOK, rr.Code)
		var body handler.TokenResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.NotEmpty(t, body.AccessToken)
	})
}

// =========================================================================
// USER HANDLER
// =========================================================================

func TestHandleCreate(t *testing.T) {
	env := newTestEnv(t)
	h := handler.NewUserHandler(env.users, nil, env.logger)

	post := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		h.HandleCreate(rr, req)
		return rr
	}

	rr := post(`{"email":"a@x.com","full_name":"A","password":"secret","is_superuser":false}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.Equal(t, "a@x.com", raw["email"])
	assert.Equal(t, "A", raw["full_name"])
	assert.Equal(t, true, raw["is_active"])
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "hashed_password")

	rr = post(`{"email":"a@x.com","full_name":"Again","password":"other"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decodeError(t, rr).Error)

	rr = post(`{"email":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(`{"email":"bad","full_name":"B","password":"secret"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "email", decodeError(t, rr).Field)
}

func TestHandleListAndMe(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@x.com", false)
	env.createUser(t, "b@x.com", false)
	h := handler.NewUserHandler(env.users, nil, env.logger)

	rr := httptest.NewRecorder()
	env.asUser(a.ID, http.HandlerFunc(h.HandleList)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users?limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var users []model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	require.Len(t, users, 1)
	assert.Equal(t, "b@x.com", users[0].Email)

	rr = httptest.NewRecorder()
	env.asUser(a.ID, http.HandlerFunc(h.HandleList)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users?limit=ten", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	env.asUser(a.ID, http.HandlerFunc(h.HandleMe)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/me", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var me model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&me))
	assert.Equal(t, a.ID, me.ID)
}

func TestHandleUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@x.com", false)
	env.createUser(t, "b@x.com", false)
	h := handler.NewUserHandler(env.users, nil, env.logger)

	put := func(id, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/v1/users/"+id, strings.NewReader(body))
		env.asUser(a.ID, http.HandlerFunc(h.HandleUpdate)).ServeHTTP(rr, withURLParam(req, "id", id))
		return rr
	}

	rr := put(a.ID, `{"email":"a2@x.com","full_name":"A2","is_superuser":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var updated model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&updated))
	assert.Equal(t, "a2@x.com", updated.Email)
	assert.True(t, updated.IsSuperuser)

	rr = put("does-not-exist", `{"email":"z@x.com","full_name":"Z","is_superuser":false}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	_, err := env.users.GetByEmail(context.Background(), "z@x.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "404 update must not create a record")

	rr = put(a.ID, `{"email":"b@x.com","full_name":"A","is_superuser":false}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

// =========================================================================
// GATEWAY
// =========================================================================

func TestGateway(t *testing.T) {
	env := newTestEnv(t)
	regular := env.createUser(t, "a@x.com", false)
	admin := env.createUser(t, "root@x.com", true)
	sleepy := env.createUser(t, "sleepy@x.com", false)
	require.NoError(t, env.db.SetActive(context.Background(), sleepy.ID, false))

	h := handler.NewUserHandler(env.users, nil, env.logger)
	emailList := env.gateway.RequireSuperuser(http.HandlerFunc(h.HandleEmailList))

	tests := []struct {
		name       string
		userID     string
		wantStatus int
		wantMsg    string
	}{
		{"superuser", admin.ID, http.StatusOK, ""},
		{"regular user", regular.ID, http.StatusForbidden, "insufficient privileges"},
		{"inactive user", sleepy.ID, http.StatusForbidden, "inactive user"},
		{"vanished user", "00000000-0000-0000-0000-000000000000", http.StatusUnauthorized, "could not validate credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.asUser(tt.userID, emailList).
				ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/email-list", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, decodeError(t, rr).Message)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
			}
		})
	}

	rr := httptest.NewRecorder()
	env.asUser(admin.ID, emailList).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/email-list", nil))
	var emails []string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&emails))
	assert.Equal(t, []string{"a@x.com", "root@x.com", "sleepy@x.com"}, emails)
}

// =========================================================================
// AVATAR
// =========================================================================

type fakeAvatars struct {
	uploadedKey string
}

func (f *fakeAvatars) UploadBase64Image(_ context.Context, path, name, encoded string) (string, error) {
	if encoded == "!!" {
		return "", apperror.ValidationFailed("image", "image is not valid base64")
	}
	f.uploadedKey = path + "/" + name + ".png"
	return f.uploadedKey, nil
}

func (f *fakeAvatars) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?X-Amz-Signature=abc", nil
}

func TestHandleAvatar(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@x.com", false)

	put := func(h *handler.UserHandler, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/v1/users/me/avatar", strings.NewReader(body))
		env.asUser(a.ID, http.HandlerFunc(h.HandleAvatar)).ServeHTTP(rr, req)
		return rr
	}

	rr := put(handler.NewUserHandler(env.users, nil, env.logger), `{"image":"aGk="}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	store := &fakeAvatars{}
	h := handler.NewUserHandler(env.users, store, env.logger)

	rr = put(h, `{"image":"aGk="}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var body handler.AvatarResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body.Key, "avatars/"+a.ID+"-"), "key %q", body.Key)
	assert.Equal(t, store.uploadedKey, body.Key)
	assert.Contains(t, body.URL, body.Key)

	rr = put(h, `{"image":"!!"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =========================================================================
// HEALTH
// =========================================================================

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandleHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rr := httptest.NewRecorder()
	handler.NewHealthHandler(pingerFunc(func(context.Context) error { return nil }), logger).
		HandleHealthCheck(rr, httptest.NewRequest(http.MethodGet, "/v1/health-check", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body handler.HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, "Health check successful", body.Message)
	assert.WithinDuration(t, time.Now(), body.Timestamp, time.Minute)

	rr = httptest.NewRecorder()
	handler.NewHealthHandler(pingerFunc(func(context.Context) error { return errors.New("down") }), logger).
		HandleHealthCheck(rr, httptest.NewRequest(http.MethodGet, "/v1/health-check", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
