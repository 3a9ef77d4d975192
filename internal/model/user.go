// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, without inheritance: the common
// columns (id, active flag, timestamps) are plain fields on each struct.
package model

import "time"

// User represents a registered user account.
//
// WHY json:"-" ON HashedPassword?
// The hash never leaves the server. Tagging it "-" makes encoding/json skip
// the field, so a handler that writes a *User straight to the response can't
// leak it by accident.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"` // unique, used as the login handle
	FullName       string    `json:"full_name"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
