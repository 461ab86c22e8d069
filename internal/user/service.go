//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_user_store.go -package=mocks

package user

import (
	"context"
	"errors"
	"strings"

	"chat-relay/internal/auth"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRequest     = errors.New("invalid request")
)

type Store interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error)
}

type Service struct {
	repo     Store
	issuer   *auth.Issuer
	validate *validator.Validate
	cost     int
}

func NewService(repo Store, issuer *auth.Issuer) *Service {
	return &Service{
		repo:     repo,
		issuer:   issuer,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
	}
}

// Register creates the account and signs the caller in.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}
	if req.AvatarURL != "" {
		u.AvatarURL = &req.AvatarURL
	}

	created, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	return s.token(created)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}

	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.token(u)
}

func (s *Service) token(u *User) (*LoginResponse, error) {
	ss, err := s.issuer.Issue(auth.Identity{UserID: u.ID, Username: u.Username})
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string, callerID int64) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidRequest
	}
	return s.repo.SearchUsers(ctx, query, callerID)
}
