package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role determines which screens an identity may open.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole validates a backend role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	}
	return "", fmt.Errorf("auth: unknown role %q", raw)
}

// Identity is the authenticated user held by the Store.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// FirstName returns the leading word of the name, used in greetings.
func (i Identity) FirstName() string {
	if fields := strings.Fields(i.Name); len(fields) > 0 {
		return fields[0]
	}
	return i.Name
}

// Initial returns the uppercase first letter of the name.
func (i Identity) Initial() string {
	for _, r := range strings.ToUpper(i.Name) {
		return string(r)
	}
	return "?"
}

// LoadingState tracks whether the Store has settled its startup validation.
type LoadingState int

const (
	StatePending LoadingState = iota
	StateResolved
)

func (s LoadingState) String() string {
	if s == StateResolved {
		return "resolved"
	}
	return "pending"
}

// AuthenticationError reports a rejected login or a rejected session credential.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Message != "" {
		return "auth: " + e.Message
	}
	return "auth: authentication failed"
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ErrNotAuthenticated is returned by operations that need an identity.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// backendUser mirrors the user object returned by /auth/login and /auth/me.
type backendUser struct {
	ID       string `json:"id"`
	MongoID  string `json:"_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive *bool  `json:"isActive,omitempty"`
}

func (u backendUser) identity() (Identity, error) {
	role, err := ParseRole(u.Role)
	if err != nil {
		return Identity{}, err
	}
	id := u.ID
	if id == "" {
		id = u.MongoID
	}
	if id == "" {
		return Identity{}, errors.New("auth: identity without id")
	}
	return Identity{ID: id, Name: u.Name, Email: u.Email, Role: role}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	User    backendUser     `json:"user"`
	Profile json.RawMessage `json:"profile"`
}

type meResponse struct {
	User    backendUser     `json:"user"`
	Profile json.RawMessage `json:"profile"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
