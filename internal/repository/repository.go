// Package repository declares the storage contracts the service layer depends
// on. Implementations live in sub-packages (sqlite, postgres); services only
// ever see these interfaces.
package repository

import (
	"context"

	"github.com/sakif/crud-boilerplate/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository persists user accounts.
//
// Implementations report a missing row as apperror.ErrNotFound and a
// duplicate email as apperror.ErrConflict. Uniqueness is left to the
// database constraint; implementations take no locks of their own.
type UserRepository interface {
	// Create assigns ID, CreatedAt and UpdatedAt on user.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// List returns users in insertion order (created_at, then id).
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
	// Update writes Email, FullName, IsSuperuser and a fresh UpdatedAt.
	// The password hash and active flag are never touched.
	Update(ctx context.Context, user *model.User) error
	// SetActive is the soft-deactivation switch. No route calls it; it
	// exists for operators and for the bootstrap path.
	SetActive(ctx context.Context, id string, active bool) error
}
