package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/example/stockauth/internal/metrics"
	"github.com/example/stockauth/internal/reqctx"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const passwordSymbols = "!@#$%^&*()_+=<>?"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func validateUsername(u string) string {
	if len(u) < 5 || len(u) > 50 {
		return "Username must be between 5 and 50 characters"
	}
	if !usernamePattern.MatchString(u) {
		return "Username may only contain letters, digits, dots, underscores and hyphens"
	}
	return ""
}

func validatePassword(p string) string {
	if len(p) < 8 || len(p) > 20 {
		return "Password must be between 8 and 20 characters"
	}
	var hasDigit, hasSymbol bool
	for _, r := range p {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return "Password contains a character that is not allowed"
		}
	}
	if !hasDigit || !hasSymbol {
		return "Password must contain at least one digit and one special character"
	}
	return ""
}

func validateEmail(e string) string {
	if e == "" || len(e) > 50 {
		return "Email must be non-empty and at most 50 characters"
	}
	if _, err := mail.ParseAddress(e); err != nil {
		return "Email address is not valid"
	}
	return ""
}

// HandleLogin verifies a username/password pair against the decrypted stored
// credential and answers with a signed token on success.
// POST /api/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password are required")
		return
	}

	ident, err := a.Loader.LoadIdentity(req.Username)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			metrics.LoginsTotal.WithLabelValues("unknown_user").Inc()
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		a.Log.Error("login failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	// byte-for-byte, case-sensitive comparison against the decrypted credential
	if req.Password != ident.Password {
		metrics.LoginsTotal.WithLabelValues("bad_credentials").Inc()
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
		return
	}

	tok, err := a.Tokens.Issue(ident.Username, ident.Email)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		a.Log.Error("token issuance failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

// HandleRegister creates an account with the credential encrypted before it
// ever touches the store, then guarantees the account carries the default
// authority.
// POST /api/register
func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if msg := validateUsername(req.Username); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if msg := validatePassword(req.Password); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}
	if msg := validateEmail(req.Email); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", msg)
		return
	}

	encrypted, err := a.Cipher.Encrypt(req.Password)
	if err != nil {
		// never fall back to persisting the plaintext
		a.Log.Error("credential encryption failed", "username", req.Username)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	user, err := a.DB.CreateUser(req.Username, req.Email, encrypted)
	if err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			switch dup.Field {
			case "username":
				writeError(w, http.StatusBadRequest, "USERNAME_TAKEN", "Username already exists")
			default:
				writeError(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already exists")
			}
			return
		}
		a.Log.Error("user creation failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	if err := EnsureDefaultRole(a.DB, user); err != nil {
		a.Log.Error("default role assignment failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"username": user.Username,
		"email":    user.Email,
	})
}

// HandleMe echoes the identity and diagnostic scope bound to the current request.
// GET /api/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	scope, ok := reqctx.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "No request scope")
		return
	}
	username, _ := scope.Identity()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":    username,
		"authorities": scope.Authorities(),
		"method":      scope.Method,
		"path":        scope.Path,
		"handler":     scope.Handler,
		"request_id":  scope.RequestID,
	})
}

// HandleListUsers lists accounts without their credentials.
// GET /api/users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.DB.ListUsers()
	if err != nil {
		a.Log.Error("listing users failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	out := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]interface{}{
			"id":         u.ID,
			"username":   u.Username,
			"email":      u.Email,
			"created_at": u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleErrors is the generic public error endpoint.
// GET /errors
func (a *App) HandleErrors(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusInternalServerError, "UNKNOWN_ERROR", "An unexpected error occurred")
}
