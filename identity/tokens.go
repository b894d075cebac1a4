package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"todo-api/domain"
)

// Claims is the verified content of an access token.
type Claims struct {
	UserID    string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

// Session is returned by a successful sign-in.
type Session struct {
	AccessToken string      `json:"accessToken"`
	TokenType   string      `json:"tokenType"`
	ExpiresIn   int64       `json:"expiresIn"`
	User        domain.User `json:"user"`

	claims Claims
}

// Claims returns the claims carried by the session token.
func (s Session) Claims() Claims { return s.claims }

// Signer issues HS256 access tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewSigner(secret []byte, ttl time.Duration, issuer string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Signer{secret: secret, ttl: ttl, issuer: issuer, now: time.Now}, nil
}

func (s *Signer) Issue(u domain.User) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl / time.Second),
		User:        u,
		claims:      Claims{UserID: u.ID, Email: u.Email, TokenID: jti, ExpiresAt: time.Unix(exp.Unix(), 0)},
	}, nil
}

// ClaimsFromMap reads the identity claims out of a parsed token.
func ClaimsFromMap(m jwt.MapClaims) (Claims, error) {
	sub, ok := m["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, errors.New("missing sub")
	}
	c := Claims{UserID: sub}
	c.Email, _ = m["email"].(string)
	c.TokenID, _ = m["jti"].(string)
	switch exp := m["exp"].(type) {
	case float64:
		c.ExpiresAt = time.Unix(int64(exp), 0)
	case int64:
		c.ExpiresAt = time.Unix(exp, 0)
	}
	return c, nil
}
