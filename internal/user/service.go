// Package user registers accounts and issues identity tokens.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/validation"
)

// ErrInvalidCredentials covers both an unknown email and a wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Issuer mints identity tokens
type Issuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

type Service struct {
	store      store.UserStore
	tokens     Issuer
	bcryptCost int
	logger     *logging.Logger
}

type Option func(*Service)

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(st store.UserStore, tokens Issuer, opts ...Option) *Service {
	s := &Service{store: st, tokens: tokens, bcryptCost: bcrypt.DefaultCost, logger: logging.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &store.User{Username: in.Name, Email: in.Email, PasswordHash: string(hash)}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

// Login checks the password and returns a token whose subject is the email
func (s *Service) Login(ctx context.Context, in LoginInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(in); err != nil {
		return "", err
	}

	u, err := s.store.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(u.Email, 0)
}

// UsernameExists answers the cross-service member check
func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetUser(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) List(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}
