package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// UserRecord is a stored account.
type UserRecord struct {
	domain.User
	PasswordHash string
}

// UserStore persists accounts keyed by email. CreateUser returns ErrUserExists on
// a duplicate email and FindUserByEmail returns ErrUserNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, rec UserRecord) error
	FindUserByEmail(ctx context.Context, email string) (UserRecord, error)
}

// Provider implements sign-up, sign-in and sign-out.
type Provider struct {
	users       UserStore
	hasher      *PasswordHasher
	signer      *Signer
	revocations Revocations
	logger      *log.Logger
	now         func() time.Time
}

func NewProvider(users UserStore, hasher *PasswordHasher, signer *Signer, revocations Revocations, logger *log.Logger) *Provider {
	if revocations == nil {
		revocations = NewMemoryRevocations()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Provider{
		users:       users,
		hasher:      hasher,
		signer:      signer,
		revocations: revocations,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// SignUp registers a new account. It does not sign the user in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkPassword(password); err != nil {
		return domain.User{}, err
	}
	hash, err := p.hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	rec := UserRecord{
		User:         domain.User{ID: uuid.NewString(), Email: email, CreatedAt: p.now()},
		PasswordHash: hash,
	}
	if err := p.users.CreateUser(ctx, rec); err != nil {
		if errors.Is(err, ErrUserExists) {
			return domain.User{}, ErrUserExists
		}
		p.logger.WithError(err).WithField("email", email).Error("create user failed")
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	p.logger.WithField("user_id", rec.ID).Info("user signed up")
	return rec.User, nil
}

// SignIn verifies the credentials and issues an access token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	rec, err := p.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		p.logger.WithError(err).WithField("email", email).Error("find user failed")
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if !p.hasher.Verify(password, rec.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	s, err := p.signer.Issue(rec.User)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return s, nil
}

// SignOut revokes the token described by c until it expires.
func (p *Provider) SignOut(ctx context.Context, c Claims) error {
	if c.TokenID == "" {
		return nil
	}
	if err := p.revocations.Revoke(ctx, c.TokenID, c.ExpiresAt); err != nil {
		p.logger.WithError(err).WithField("user_id", c.UserID).Error("revoke token failed")
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// CurrentUser resolves verified claims to the signed-in user.
func (p *Provider) CurrentUser(ctx context.Context, c Claims) (domain.User, error) {
	if c.TokenID != "" {
		revoked, err := p.revocations.IsRevoked(ctx, c.TokenID)
		if err != nil {
			return domain.User{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return domain.User{}, ErrTokenRevoked
		}
	}
	return domain.User{ID: c.UserID, Email: c.Email}, nil
}
