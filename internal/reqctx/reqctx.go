// Package reqctx carries the per-request authentication and diagnostic state.
//
// Each request gets its own Scope, attached to the request's context.Context
// and discarded with it. Nothing here is process-global or keyed by goroutine,
// so worker reuse cannot leak one request's identity into the next; Clear is
// still called on every exit path so that a Scope captured by a closure after
// the request ends reads as unauthenticated.
package reqctx

import "context"

type ctxKey int

const scopeKey ctxKey = 0

// Scope is the authenticated-identity binding for one request plus the
// diagnostic fields correlated into its log lines. A Scope belongs to a single
// request and must not be shared or cached across requests.
type Scope struct {
	RequestID string
	Method    string
	Path      string
	Handler   string

	username      string
	authorities   []string
	authenticated bool
}

// New creates the Scope at the start of request processing.
func New(requestID, method, path string) *Scope {
	return &Scope{RequestID: requestID, Method: method, Path: path}
}

// BindIdentity associates the resolved identity with this request.
func (s *Scope) BindIdentity(username string, authorities []string) {
	s.username = username
	s.authorities = append([]string(nil), authorities...)
	s.authenticated = true
}

// Identity returns the bound username, if any.
func (s *Scope) Identity() (string, bool) {
	return s.username, s.authenticated
}

// Authorities returns a copy of the bound authority names.
func (s *Scope) Authorities() []string {
	return append([]string(nil), s.authorities...)
}

// Authenticated reports whether an identity is bound.
func (s *Scope) Authenticated() bool { return s.authenticated }

// Clear drops the identity binding. It is idempotent and must run on every
// exit path, including panics.
func (s *Scope) Clear() {
	s.username = ""
	s.authorities = nil
	s.authenticated = false
}

// WithScope attaches the Scope to a context.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext returns the request's Scope, if one was attached.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok
}
