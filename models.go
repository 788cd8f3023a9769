package main

import (
	"fmt"
	"strings"
	"time"
)

// User is a persisted account row. Password holds the reversibly encrypted
// credential exactly as stored; it is never the plaintext.
type User struct {
	ID        int64
	Username  string
	Email     string
	Password  string
	CreatedAt time.Time
}

// RoleName is the closed set of authority names. Free-text role input is
// admitted only through ParseRoleName.
type RoleName string

const (
	RoleUser      RoleName = "ROLE_USER"
	RoleModerator RoleName = "ROLE_MODERATOR"
	RoleAdmin     RoleName = "ROLE_ADMIN"
)

// DefaultRole is assigned to every account that reaches authorization with an
// empty authority set.
const DefaultRole = RoleUser

// UnknownRoleError reports a role name outside the closed set.
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role name %q", e.Name)
}

// ParseRoleName normalizes a free-text role name to the closed enumeration.
func ParseRoleName(s string) (RoleName, error) {
	switch r := RoleName(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleUser, RoleModerator, RoleAdmin:
		return r, nil
	default:
		return "", &UnknownRoleError{Name: s}
	}
}

// Role is a named authority.
type Role struct {
	ID   int64
	Name RoleName
}

// UserRole is one row of the user↔role join table. The pair of identifiers is
// the composite primary key; there is no synthetic id, and two assignments are
// equal exactly when both identifiers match (Go struct equality).
type UserRole struct {
	UserID int64
	RoleID int64
}

// Identity is a fully resolved principal: the stored credential decrypted back
// to plaintext plus the derived authority names. It exists only for the
// duration of a login or token-resolution pass and is never persisted.
type Identity struct {
	Username    string
	Email       string
	Password    string
	Authorities []string
}
