package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/stockauth/internal/cipher"
)

// IdentityLoader resolves a username to a full Identity: the store row with
// its credential decrypted plus the authority names from the user↔role join.
// Lookups are exact-match and case-sensitive, matching the store's uniqueness
// constraint.
type IdentityLoader struct {
	store  Store
	cipher *cipher.Cipher
	log    *slog.Logger
}

func NewIdentityLoader(store Store, c *cipher.Cipher, log *slog.Logger) *IdentityLoader {
	return &IdentityLoader{store: store, cipher: c, log: log}
}

// LoadIdentity returns ErrIdentityNotFound for an unknown username and
// *CredentialCorruptionError when the stored credential fails to decrypt.
// Callers must not conflate the two: the former is a routine 401/404, the
// latter a request-fatal system fault.
func (l *IdentityLoader) LoadIdentity(username string) (*Identity, error) {
	user, err := l.store.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", username, err)
	}
	if user == nil {
		return nil, ErrIdentityNotFound
	}

	plaintext, err := l.cipher.Decrypt(user.Password)
	if err != nil {
		// log identifying metadata only, never ciphertext or plaintext
		l.log.Error("stored credential failed to decrypt", "username", username)
		return nil, &CredentialCorruptionError{Username: username, Err: err}
	}

	roles, err := l.store.GetUserRoles(user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading authorities for %q: %w", username, err)
	}
	authorities := make([]string, 0, len(roles))
	for _, r := range roles {
		authorities = append(authorities, string(r.Name))
	}

	return &Identity{
		Username:    user.Username,
		Email:       user.Email,
		Password:    plaintext,
		Authorities: authorities,
	}, nil
}

// EnsureDefaultRole assigns DefaultRole to an account that has no authorities,
// creating the role row on first use. The assignment is an upsert on the
// composite-key join table, so two concurrent calls for the same account
// converge on a single row instead of racing.
func EnsureDefaultRole(store Store, user *User) error {
	roles, err := store.GetUserRoles(user.ID)
	if err != nil {
		return fmt.Errorf("checking authorities for %q: %w", user.Username, err)
	}
	if len(roles) > 0 {
		return nil
	}

	role, err := store.GetRoleByName(DefaultRole)
	if err != nil {
		return fmt.Errorf("looking up default role: %w", err)
	}
	if role == nil {
		role, err = store.CreateRole(DefaultRole)
		if err != nil {
			var dup *DuplicateError
			if !errors.As(err, &dup) {
				return fmt.Errorf("creating default role: %w", err)
			}
			// concurrent creation won; fetch the winner
			if role, err = store.GetRoleByName(DefaultRole); err != nil || role == nil {
				return fmt.Errorf("default role vanished after duplicate create: %w", err)
			}
		}
	}
	return store.AssignRole(user.ID, role.ID)
}
