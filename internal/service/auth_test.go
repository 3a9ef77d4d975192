package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/crud-boilerplate/internal/apperror"
	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/model"
)

// newTestAuthService returns an AuthService and a UserService sharing one
// fake repository.
func newTestAuthService(t *testing.T, repo *fakeUserRepo) (*AuthService, *UserService) {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "HS256", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	ps := auth.NewPasswordServiceForTest(4)

	return NewAuthService(repo, ts, ps, discardLogger()), NewUserService(repo, ps, discardLogger())
}

func mustCreate(t *testing.T, users *UserService, email, password string, superuser bool) *model.User {
	t.Helper()
	u, err := users.Create(context.Background(), email, "Test User", password, superuser)
	if err != nil {
		t.Fatalf("setup: creating %s: %v", email, err)
	}
	return u
}

// =========================================================================
// Authenticate TESTS
// =========================================================================

func TestAuthenticate_Success(t *testing.T) {
	repo := newFakeUserRepo()
	svc, users := newTestAuthService(t, repo)
	created := mustCreate(t, users, "a@x.com", "secret", false)

	result, err := svc.Authenticate(context.Background(), "A@x.com", "secret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if result.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", result.TokenType)
	}
	if result.User.ID != created.ID {
		t.Errorf("User.ID = %q, want %q", result.User.ID, created.ID)
	}

	// The token must verify back to the user's ID.
	ts, _ := auth.NewTokenService("test-secret-at-least-16-chars!!", "HS256", time.Hour)
	subject, err := ts.Verify(result.AccessToken)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != created.ID {
		t.Errorf("token subject = %q, want %q", subject, created.ID)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		inactive bool
		wantErr  error
		wantMsg  string
	}{
		{"unknown email", "nobody@x.com", "secret", false, apperror.ErrUnauthorized, "incorrect email or password"},
		{"wrong password", "a@x.com", "wrong", false, apperror.ErrUnauthorized, "incorrect email or password"},
		{"inactive user", "a@x.com", "secret", true, apperror.ErrForbidden, "inactive user"},
		{"inactive user, wrong password", "a@x.com", "wrong", true, apperror.ErrUnauthorized, "incorrect email or password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeUserRepo()
			svc, users := newTestAuthService(t, repo)
			u := mustCreate(t, users, "a@x.com", "secret", false)
			if tt.inactive {
				repo.SetActive(context.Background(), u.ID, false)
			}

			_, err := svc.Authenticate(context.Background(), tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

// =========================================================================
// CurrentUser / RequireSuperuser TESTS
// =========================================================================

func TestCurrentUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc, users := newTestAuthService(t, repo)
	active := mustCreate(t, users, "a@x.com", "secret", false)
	inactive := mustCreate(t, users, "b@x.com", "secret", false)
	repo.SetActive(context.Background(), inactive.ID, false)

	got, err := svc.CurrentUser(context.Background(), active.ID)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if got.Email != "a@x.com" {
		t.Errorf("Email = %q, want a@x.com", got.Email)
	}

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"empty subject", "", apperror.ErrUnauthorized},
		{"deleted subject", "user-999", apperror.ErrUnauthorized},
		{"inactive", inactive.ID, apperror.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CurrentUser(context.Background(), tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CurrentUser() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCurrentUser_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.getByIDErr = errors.New("database is on fire")
	svc, _ := newTestAuthService(t, repo)

	_, err := svc.CurrentUser(context.Background(), "user-1")
	if err == nil {
		t.Fatal("CurrentUser() should propagate repository errors")
	}
	if errors.Is(err, apperror.ErrUnauthorized) {
		t.Error("a database failure must not look like a bad token")
	}
}

func TestRequireSuperuser(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo())

	if err := svc.RequireSuperuser(&model.User{IsSuperuser: true}); err != nil {
		t.Errorf("RequireSuperuser(superuser) error = %v", err)
	}

	err := svc.RequireSuperuser(&model.User{})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("RequireSuperuser(regular) error = %v, want ErrForbidden", err)
	}
	if err.Error() != "insufficient privileges" {
		t.Errorf("message = %q", err.Error())
	}

	if err := svc.RequireSuperuser(nil); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("RequireSuperuser(nil) error = %v, want ErrForbidden", err)
	}
}

// =========================================================================
// LoginWithGitHub TESTS
// =========================================================================

func TestLoginWithGitHub(t *testing.T) {
	repo := newFakeUserRepo()
	svc, users := newTestAuthService(t, repo)
	u := mustCreate(t, users, "octocat@github.com", "secret", false)

	result, err := svc.LoginWithGitHub(context.Background(), &auth.GitHubUser{
		ID: 42, Login: "octocat", Email: "OctoCat@GitHub.com",
	})
	if err != nil {
		t.Fatalf("LoginWithGitHub() error = %v", err)
	}
	if result.User.ID != u.ID || result.AccessToken == "" {
		t.Errorf("LoginWithGitHub() = %+v", result)
	}
}

func TestLoginWithGitHub_Failures(t *testing.T) {
	repo := newFakeUserRepo()
	svc, users := newTestAuthService(t, repo)
	sleepy := mustCreate(t, users, "sleepy@x.com", "secret", false)
	repo.SetActive(context.Background(), sleepy.ID, false)

	tests := []struct {
		name    string
		ghUser  *auth.GitHubUser
		wantErr error
	}{
		{"nil profile", nil, apperror.ErrUnauthorized},
		{"no email", &auth.GitHubUser{ID: 1, Login: "x"}, apperror.ErrUnauthorized},
		{"no account", &auth.GitHubUser{ID: 1, Login: "x", Email: "new@x.com"}, apperror.ErrUnauthorized},
		{"inactive account", &auth.GitHubUser{ID: 2, Login: "s", Email: "sleepy@x.com"}, apperror.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.LoginWithGitHub(context.Background(), tt.ghUser)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoginWithGitHub() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(repo.users) != 1 {
		t.Errorf("GitHub login must never create accounts, have %d users", len(repo.users))
	}
}

// =========================================================================
// EnsureSuperuser TESTS
// =========================================================================

func TestEnsureSuperuser(t *testing.T) {
	repo := newFakeUserRepo()
	svc, users := newTestAuthService(t, repo)

	created, err := svc.EnsureSuperuser(context.Background(), users, "admin@x.com", "changethis")
	if err != nil {
		t.Fatalf("EnsureSuperuser() error = %v", err)
	}
	if !created {
		t.Fatal("EnsureSuperuser() on empty store should create the user")
	}

	admin, _ := repo.GetByEmail(context.Background(), "admin@x.com")
	if admin == nil || !admin.IsSuperuser {
		t.Fatalf("bootstrap user = %+v, want a superuser", admin)
	}

	created, err = svc.EnsureSuperuser(context.Background(), users, "admin@x.com", "different")
	if err != nil {
		t.Fatalf("second EnsureSuperuser() error = %v", err)
	}
	if created {
		t.Error("second EnsureSuperuser() should be a no-op")
	}

	// The bootstrap account can log in with the configured password.
	if _, err := svc.Authenticate(context.Background(), "admin@x.com", "changethis"); err != nil {
		t.Errorf("Authenticate(bootstrap) error = %v", err)
	}
}
