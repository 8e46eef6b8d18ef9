package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Service authenticates callers and mints session tokens. It is the single
// place where a resolved user turns into tokens, whether through a password
// login, a refresh or an OTP exchange.
type Service struct {
	users  UserStore
	roles  RoleSource
	issuer *Issuer
	logger *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithLogger sets the logger used for authentication failures.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the user store, role source and token issuer.
func NewService(users UserStore, roles RoleSource, issuer *Issuer, opts ...ServiceOption) *Service {
	s := &Service{
		users:  users,
		roles:  roles,
		issuer: issuer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueFor mints a token pair for an already resolved user, embedding the
// user's current roles.
func (s *Service) IssueFor(ctx context.Context, user User) (TokenPair, error) {
	roles, err := s.roles.Roles(ctx, IdentityOf(user))
	if err != nil {
		return TokenPair{}, fmt.Errorf("resolve roles: %w", err)
	}
	return s.issuer.Issue(user, roles)
}

// Login checks an email/password pair and returns a token pair. Unknown
// emails, wrong passwords and inactive accounts all yield ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = VerifyPassword("", password)
		return TokenPair{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, ErrUnauthorized
	}
	if !user.Active {
		return TokenPair{}, ErrUnauthorized
	}
	return s.IssueFor(ctx, user)
}

// Refresh validates a refresh token and returns a new access token carrying
// the user's current roles. The refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, err
	}
	roles, err := s.roles.Roles(ctx, IdentityOf(user))
	if err != nil {
		return TokenPair{}, fmt.Errorf("resolve roles: %w", err)
	}
	access, exp, err := s.issuer.IssueAccess(user, roles)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, AccessExpiresAt: exp}, nil
}

// Authenticate resolves a bearer access token to an Identity. The superuser
// flag comes from storage, not from the token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.issuer.ParseAccess(accessToken)
	if err != nil {
		return Anonymous, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return Anonymous, err
	}
	return IdentityOf(user), nil
}

func (s *Service) activeUser(ctx context.Context, id string) (User, error) {
	user, err := s.users.UserByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("token subject no longer exists", zap.String("user_id", id))
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, err
	}
	if !user.Active {
		s.logger.Debug("token subject is inactive", zap.String("user_id", id))
		return User{}, ErrInvalidToken
	}
	return user, nil
}
