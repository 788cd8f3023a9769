package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// ErrIdentityNotFound is the recoverable "no such account" outcome of an
// identity lookup. The login path maps it to 404; token resolution maps it
// to 401.
var ErrIdentityNotFound = errors.New("identity not found")

// CredentialCorruptionError means a stored credential could not be decrypted.
// Unlike ErrIdentityNotFound this is a system fault: the request fails with a
// 500-class status, and the error is logged with the username only, never the
// ciphertext or any decrypted material.
type CredentialCorruptionError struct {
	Username string
	Err      error
}

func (e *CredentialCorruptionError) Error() string {
	return fmt.Sprintf("stored credential for %q is corrupt: %v", e.Username, e.Err)
}

func (e *CredentialCorruptionError) Unwrap() error { return e.Err }

// DuplicateError surfaces a uniqueness-constraint violation with the field
// that collided, so the register handler can answer with a field-specific
// message.
type DuplicateError struct {
	Field string // "username", "email" or "role"
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}
