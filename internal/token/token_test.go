package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("unit-test-secret")

	tok, err := svc.Issue("alice", "a@x.com")
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.Len(t, strings.Split(tok, "."), 3)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.Equal(t, "a@x.com", claims.Email)
	require.WithinDuration(t, time.Now(), claims.IssuedAt.Time, 5*time.Second)
	require.WithinDuration(t, time.Now().Add(Lifetime), claims.ExpiresAt.Time, 5*time.Second)
}

func TestValidateExpired(t *testing.T) {
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	now := issued
	svc := NewServiceWithClock("unit-test-secret", func() time.Time { return now })

	tok, err := svc.Issue("alice", "a@x.com")
	require.NoError(t, err)

	// one second in: still valid
	now = issued.Add(time.Second)
	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)

	// one millisecond past the 24h lifetime: expired
	now = issued.Add(Lifetime + time.Millisecond)
	_, err = svc.Validate(tok)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalid)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindExpired, verr.Kind)
}

func TestValidateTamperedSignature(t *testing.T) {
	svc := NewService("unit-test-secret")

	tok, err := svc.Issue("alice", "a@x.com")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	// swap between 'A' and 'Q' so the decoded signature changes even at the
	// final character, whose low padding bits a lenient decoder ignores
	sig := []byte(parts[2])
	for i := range sig {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		if flipped[i] == 'A' {
			flipped[i] = 'Q'
		} else {
			flipped[i] = 'A'
		}
		tampered := parts[0] + "." + parts[1] + "." + string(flipped)

		_, verr := svc.Validate(tampered)
		require.Error(t, verr, "byte %d", i)
		require.ErrorIs(t, verr, ErrInvalid)
	}
}

func TestValidateWrongKey(t *testing.T) {
	issuer := NewService("right-secret")
	verifier := NewService("wrong-secret")

	tok, err := issuer.Issue("alice", "a@x.com")
	require.NoError(t, err)

	_, err = verifier.Validate(tok)
	require.ErrorIs(t, err, ErrInvalid)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindBadSignature, verr.Kind)
}

func TestValidateMalformed(t *testing.T) {
	svc := NewService("unit-test-secret")

	for _, tok := range []string{"", "garbage", "not.a.jwt", "a.b"} {
		_, err := svc.Validate(tok)
		require.ErrorIs(t, err, ErrInvalid)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, KindMalformed, verr.Kind)
	}
}

func TestKindNotLeakedViaSentinel(t *testing.T) {
	// every failure kind collapses to the same sentinel
	svc := NewServiceWithClock("unit-test-secret", func() time.Time {
		return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	})
	tok, err := svc.Issue("alice", "a@x.com")
	require.NoError(t, err)

	late := NewServiceWithClock("unit-test-secret", func() time.Time {
		return time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	})
	_, expiredErr := late.Validate(tok)
	_, malformedErr := svc.Validate("garbage")
	_, sigErr := NewService("other").Validate(tok)

	for _, e := range []error{expiredErr, malformedErr, sigErr} {
		require.True(t, errors.Is(e, ErrInvalid))
	}
}

func TestIsValid(t *testing.T) {
	svc := NewService("unit-test-secret")
	tok, err := svc.Issue("alice", "a@x.com")
	require.NoError(t, err)

	require.True(t, svc.IsValid(tok))
	require.False(t, svc.IsValid("garbage"))
}
