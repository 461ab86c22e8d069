package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Verify(t *testing.T) {
	issuer := NewIssuer("secret", "go-chat-app", time.Hour)
	verifier := NewVerifier("secret", "go-chat-app")

	t.Run("should return the identity of a valid token", func(t *testing.T) {
		req := require.New(t)
		token, err := issuer.Issue(Identity{UserID: 42, Username: "alice"})
		req.NoError(err)

		id, err := verifier.Verify(token)

		req.NoError(err)
		req.Equal(Identity{UserID: 42, Username: "alice"}, id)
	})

	t.Run("should reject a missing token", func(t *testing.T) {
		_, err := verifier.Verify("")
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		req := require.New(t)
		token, err := NewIssuer("other", "go-chat-app", time.Hour).Issue(Identity{UserID: 1})
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		req := require.New(t)
		expired := NewIssuer("secret", "go-chat-app", time.Minute)
		expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := expired.Issue(Identity{UserID: 1})
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject a token from another issuer", func(t *testing.T) {
		req := require.New(t)
		token, err := NewIssuer("secret", "someone-else", time.Hour).Issue(Identity{UserID: 1})
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject an unsigned token", func(t *testing.T) {
		req := require.New(t)
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "go-chat-app",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, ErrUnauthenticated)
	})

	t.Run("should reject a token without a user id", func(t *testing.T) {
		req := require.New(t)
		token, err := issuer.Issue(Identity{Username: "ghost"})
		req.NoError(err)

		_, err = verifier.Verify(token)

		req.ErrorIs(err, ErrUnauthenticated)
	})
}
