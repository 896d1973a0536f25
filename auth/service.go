package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/parleyhq/parley/webchat"
)

var (
	// ErrInvalidCredentials is returned when the username or password is wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Service glues the user store, the password hasher and the token manager
// together. It implements webchat.Authenticator.
type Service struct {
	users  UserStore
	hasher *PasswordHasher
	tokens *TokenManager
}

// NewService creates an auth service.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenManager) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens}
}

// Register creates a new account and returns it.
func (s *Service) Register(ctx context.Context, username, password, language string) (*User, error) {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errors.Wrap(err, "unable to hash password")
	}

	user, err := s.users.Create(ctx, username, passwordHash, language)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, err
		}
		return nil, errors.Wrap(err, "unable to create user")
	}
	return user, nil
}

// Login verifies the credentials and issues a connection token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", errors.Wrap(err, "unable to find user")
	}

	if !s.hasher.Verify(password, user.passwordHash) {
		return "", ErrInvalidCredentials
	}

	return s.tokens.Generate(user.ID, user.Username)
}

// Authenticate resolves an opaque credential to an identity, rejecting
// anything that does not verify.
func (s *Service) Authenticate(credential string) (webchat.Identity, error) {
	claims, err := s.tokens.Validate(credential)
	if err != nil {
		return webchat.Identity{}, err
	}
	return webchat.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
