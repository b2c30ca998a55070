// Package models holds the administrative principal record and its
// registration inputs.
package models

import (
	"strings"
	"time"
)

// RoleAdmin is the role tag stamped on administrative principals and scoped
// into their tokens.
const RoleAdmin = "admin"

// Admin is an administrative identity record. These are back-office users
// (not customers) who need access into the admin or merchant applications.
//
// Hash is derived credential material and is never serialized to callers; it
// is set and read only by the credential service. IsDeleted soft-deletes the
// record: logically absent from guarded identity operations, physically
// retained in the store.
type Admin struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	PictureURL string    `json:"pictureUrl,omitempty"`
	Hash       string    `json:"-"`
	Role       string    `json:"role"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EntityID implements store.Entity.
func (a Admin) EntityID() string { return a.ID }

// WithEntityID implements store.Entity.
func (a Admin) WithEntityID(id string) Admin {
	a.ID = id
	return a
}

// HasCredential reports whether a password has ever been set. Principals
// registered without a password cannot log in until one is set.
func (a Admin) HasCredential() bool { return a.Hash != "" }

// RegistrationInput carries the admin fields plus an optional plaintext
// password for Register.
type RegistrationInput struct {
	Admin    Admin
	Password string
}

// Normalize trims identifying fields in place.
func (in *RegistrationInput) Normalize() {
	in.Admin.Email = strings.TrimSpace(in.Admin.Email)
	in.Admin.FirstName = strings.TrimSpace(in.Admin.FirstName)
	in.Admin.LastName = strings.TrimSpace(in.Admin.LastName)
}
