// Package accounts implements the user account service: account creation,
// lookup by contact, credential resets and token login.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
)

var (
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for unusable login tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUsernameTaken is returned when creating an account whose username
	// already exists.
	ErrUsernameTaken = store.ErrUsernameTaken

	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = store.ErrNotFound
)

// LoginPath is appended to the app URL to build a token login link.
const LoginPath = "/medic/login/token/"

// Repository is the persistence the service needs.
type Repository interface {
	InsertAccount(ctx context.Context, a model.Account) error
	GetAccount(ctx context.Context, username string) (model.Account, error)
	AccountExists(ctx context.Context, username string) (bool, error)
	AccountsByContact(ctx context.Context, contactID string) ([]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UpdatePasswordHash(ctx context.Context, username, hash string, now time.Time) error
	UpdateTokenLogin(ctx context.Context, username string, tl model.TokenLogin, now time.Time) error
}

// AccountSpec describes an account to create.
type AccountSpec struct {
	Username   string
	ContactID  string
	FacilityID string
	Roles      []string
	Phone      string
	FullName   string

	// Password is optional; token-login accounts have none.
	Password string

	// TokenLogin marks the account as using token login.
	TokenLogin bool
}

// Service is the account service.
type Service struct {
	repo     Repository
	tokens   *TokenIssuer
	hashCost int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

// WithNow sets the wall clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		if s.tokens != nil {
			s.tokens.now = now
		}
	}
}

// NewService creates an account service.
func NewService(repo Repository, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		tokens:   tokens,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates a new account.
// Returns ErrUsernameTaken if the username is in use at insert time.
func (s *Service) Create(ctx context.Context, spec AccountSpec) (model.Account, error) {
	if spec.Username == "" {
		return model.Account{}, fmt.Errorf("create account: username is required")
	}
	if spec.ContactID == "" {
		return model.Account{}, fmt.Errorf("create account %s: contact id is required", spec.Username)
	}

	now := s.now()
	a := model.Account{
		Username:   spec.Username,
		ContactID:  spec.ContactID,
		FacilityID: spec.FacilityID,
		Roles:      append([]string(nil), spec.Roles...),
		Phone:      spec.Phone,
		FullName:   spec.FullName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if spec.TokenLogin {
		a.TokenLogin = &model.TokenLogin{Active: true}
	}
	if spec.Password != "" {
		hash, err := HashSecret(spec.Password, s.hashCost)
		if err != nil {
			return model.Account{}, fmt.Errorf("create account %s: %w", spec.Username, err)
		}
		a.PasswordHash = hash
	}

	if err := s.repo.InsertAccount(ctx, a); err != nil {
		return model.Account{}, err
	}
	return a, nil
}

// GetByUsername returns an account by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (model.Account, error) {
	return s.repo.GetAccount(ctx, username)
}

// GetByContact returns every account linked to contactID.
func (s *Service) GetByContact(ctx context.Context, contactID string) ([]model.Account, error) {
	return s.repo.AccountsByContact(ctx, contactID)
}

// List returns every account.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// Exists reports whether username is taken.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.repo.AccountExists(ctx, username)
}

// ResetCredential replaces the account's password with a random secret that
// is never revealed, and deactivates token login. The account record and its
// contact link are kept.
func (s *Service) ResetCredential(ctx context.Context, username string) error {
	secret, err := GenerateSecret()
	if err != nil {
		return fmt.Errorf("reset credential %s: %w", username, err)
	}
	hash, err := HashSecret(secret, s.hashCost)
	if err != nil {
		return fmt.Errorf("reset credential %s: %w", username, err)
	}

	now := s.now()
	if err := s.repo.UpdatePasswordHash(ctx, username, hash, now); err != nil {
		return fmt.Errorf("reset credential: %w", err)
	}
	if err := s.repo.UpdateTokenLogin(ctx, username, model.TokenLogin{}, now); err != nil {
		return fmt.Errorf("reset credential: %w", err)
	}
	return nil
}

// SetPassword sets a known password, e.g. when an administrator restores
// access to a replaced account.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	hash, err := HashSecret(password, s.hashCost)
	if err != nil {
		return fmt.Errorf("set password %s: %w", username, err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, username, hash, s.now()); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// EnableTokenLogin issues a fresh login token for the account and records it
// as the account's active token. Any previously issued token stops working.
// A zero ttl uses the issuer's default lifetime.
func (s *Service) EnableTokenLogin(ctx context.Context, username, appURL string, ttl time.Duration) (model.TokenPayload, error) {
	if s.tokens == nil {
		return model.TokenPayload{}, fmt.Errorf("enable token login %s: no token issuer configured", username)
	}
	if _, err := s.repo.GetAccount(ctx, username); err != nil {
		return model.TokenPayload{}, fmt.Errorf("enable token login: %w", err)
	}

	token, tokenID, expiresAt, err := s.tokens.Issue(username, ttl)
	if err != nil {
		return model.TokenPayload{}, fmt.Errorf("enable token login %s: %w", username, err)
	}

	tl := model.TokenLogin{Active: true, TokenID: tokenID, ExpiresAt: expiresAt}
	if err := s.repo.UpdateTokenLogin(ctx, username, tl, s.now()); err != nil {
		return model.TokenPayload{}, fmt.Errorf("enable token login: %w", err)
	}

	return model.TokenPayload{
		Token:     token,
		URL:       strings.TrimRight(appURL, "/") + LoginPath + token,
		ExpiresAt: expiresAt,
	}, nil
}

// Authenticate checks a username/password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (model.Account, error) {
	a, err := s.repo.GetAccount(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("authenticate: %w", err)
	}
	if err := VerifySecret(password, a.PasswordHash); err != nil {
		return model.Account{}, err
	}
	return a, nil
}

// AuthenticateToken checks a login token. Only the account's most recently
// issued token is accepted.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (model.Account, error) {
	if s.tokens == nil {
		return model.Account{}, ErrInvalidToken
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return model.Account{}, err
	}

	a, err := s.repo.GetAccount(ctx, claims.Username)
	if errors.Is(err, store.ErrNotFound) {
		return model.Account{}, ErrInvalidToken
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("authenticate token: %w", err)
	}
	if a.TokenLogin == nil || !a.TokenLogin.Active || a.TokenLogin.TokenID != claims.ID {
		return model.Account{}, ErrInvalidToken
	}
	return a, nil
}
