// Package token issues and validates the signed bearer tokens that prove an
// identity without a server-side session. Tokens are signed, not encrypted:
// the subject and email claims are readable by anyone holding the token, so
// callers must never embed secrets in them. There is no revocation; a leaked
// token stays valid until its expiry.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime is fixed at issuance time + 24h.
const Lifetime = 24 * time.Hour

// ErrInvalid is the single externally visible validation failure. Whether a
// token was malformed, carried a bad signature, or had expired is deliberately
// not distinguishable through the error chain seen by HTTP handlers; the
// internal Kind is kept for logging only.
var ErrInvalid = errors.New("invalid token")

// Kind classifies a validation failure for diagnostics.
type Kind int

const (
	KindMalformed Kind = iota
	KindBadSignature
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindBadSignature:
		return "bad-signature"
	case KindExpired:
		return "expired"
	default:
		return "malformed"
	}
}

// ValidationError carries the internal failure kind. errors.Is(err, ErrInvalid)
// holds for every ValidationError regardless of kind.
type ValidationError struct {
	Kind  Kind
	cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("token validation failed (%s): %v", e.Kind, e.cause)
}

func (e *ValidationError) Unwrap() error { return e.cause }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Claims is the claim set embedded in every issued token: subject (username),
// email, issued-at and expiry.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with one fixed HMAC key. Validity is a
// pure function of (token bytes, current time, key); Service holds no mutable
// state and is safe for concurrent use.
type Service struct {
	key []byte
	now func() time.Time
}

func NewService(secret string) *Service {
	return &Service{key: []byte(secret), now: time.Now}
}

// NewServiceWithClock is NewService with an injected clock, for expiry tests.
func NewServiceWithClock(secret string, now func() time.Time) *Service {
	return &Service{key: []byte(secret), now: now}
}

// Issue produces a signed token for the given subject.
func (s *Service) Issue(username, email string) (string, error) {
	now := s.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.key)
}

// Validate verifies the signature and expiry and returns the embedded claims.
// Any failure is a *ValidationError matching ErrInvalid.
func (s *Service) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.key, nil
		},
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, &ValidationError{Kind: classify(err), cause: err}
	}
	if !tok.Valid {
		return nil, &ValidationError{Kind: KindMalformed, cause: errors.New("token not valid")}
	}
	return claims, nil
}

// IsValid reports whether Validate would succeed, swallowing the error.
func (s *Service) IsValid(tokenStr string) bool {
	_, err := s.Validate(tokenStr)
	return err == nil
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return KindExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return KindBadSignature
	default:
		return KindMalformed
	}
}
