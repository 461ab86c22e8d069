package user_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/mocks"
	"chat-relay/internal/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const (
	secret = "test-secret"
	issuer = "chat-relay-test"
)

func newService(t *testing.T) (*user.Service, *mocks.MockStore) {
	store := mocks.NewMockStore(gomock.NewController(t))
	return user.NewService(store, auth.NewIssuer(secret, issuer, time.Hour)), store
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	verifier := auth.NewVerifier(secret, issuer)

	t.Run("should hash the password and return a verifiable token", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().CreateUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *user.User) (*user.User, error) {
			req.Equal("alice", u.Username)
			req.NoError(bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("correct horse")))
			req.Nil(u.AvatarURL)
			u.ID = 42
			return u, nil
		})

		res, err := svc.Register(ctx, &user.RegisterRequest{Username: "  alice ", Password: "correct horse"})
		req.NoError(err)
		req.Equal(int64(42), res.ID)
		req.Equal("alice", res.Username)

		identity, err := verifier.Verify(res.AccessToken)
		req.NoError(err)
		req.Equal(auth.Identity{UserID: 42, Username: "alice"}, identity)
	})

	t.Run("should reject short credentials before touching the store", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Register(ctx, &user.RegisterRequest{Username: "al", Password: "correct horse"})
		req.ErrorIs(err, user.ErrInvalidRequest)

		_, err = svc.Register(ctx, &user.RegisterRequest{Username: "alice", Password: "short"})
		req.ErrorIs(err, user.ErrInvalidRequest)

		_, err = svc.Register(ctx, &user.RegisterRequest{Username: "alice", Password: "correct horse", AvatarURL: "not a url"})
		req.ErrorIs(err, user.ErrInvalidRequest)
	})

	t.Run("should pass through a duplicate username", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return(nil, user.ErrUserAlreadyExists)

		_, err := svc.Register(ctx, &user.RegisterRequest{Username: "alice", Password: "correct horse"})

		req.ErrorIs(err, user.ErrUserAlreadyExists)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	alice := &user.User{ID: 7, Username: "alice", Password: string(hash)}

	t.Run("should issue a token for valid credentials", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().GetUserByUsername(gomock.Any(), "alice").Return(alice, nil)

		res, err := svc.Login(ctx, &user.LoginRequest{Username: "alice", Password: "correct horse"})

		req.NoError(err)
		req.Equal(int64(7), res.ID)
		req.NotEmpty(res.AccessToken)
	})

	t.Run("should not tell a wrong password from an unknown user", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().GetUserByUsername(gomock.Any(), "alice").Return(alice, nil)
		store.EXPECT().GetUserByUsername(gomock.Any(), "mallory").Return(nil, user.ErrUserNotFound)

		_, err := svc.Login(ctx, &user.LoginRequest{Username: "alice", Password: "battery staple"})
		req.ErrorIs(err, user.ErrInvalidCredentials)

		_, err = svc.Login(ctx, &user.LoginRequest{Username: "mallory", Password: "battery staple"})
		req.ErrorIs(err, user.ErrInvalidCredentials)
	})

	t.Run("should surface store failures", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		boom := errors.New("connection refused")
		store.EXPECT().GetUserByUsername(gomock.Any(), "alice").Return(nil, boom)

		_, err := svc.Login(ctx, &user.LoginRequest{Username: "alice", Password: "correct horse"})

		req.ErrorIs(err, boom)
	})
}

func TestService_SearchUsers(t *testing.T) {
	t.Run("should exclude the caller from results", func(t *testing.T) {
		req := require.New(t)
		svc, store := newService(t)
		store.EXPECT().SearchUsers(gomock.Any(), "bo", int64(1)).Return([]user.User{{ID: 2, Username: "bob"}}, nil)

		users, err := svc.SearchUsers(context.Background(), " bo ", 1)

		req.NoError(err)
		req.Equal([]user.User{{ID: 2, Username: "bob"}}, users)
	})

	t.Run("should reject an empty query", func(t *testing.T) {
		req := require.New(t)
		svc, _ := newService(t)

		_, err := svc.SearchUsers(context.Background(), "   ", 1)

		req.ErrorIs(err, user.ErrInvalidRequest)
	})
}
