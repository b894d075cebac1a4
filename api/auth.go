package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"todo-api/identity"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// Auth validates bearer tokens. HS256 tokens are checked against the shared
// signing secret; RS256 tokens against the JWKS of an external issuer.
type Auth struct {
	Secret   []byte
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. Either secret or jwks must be set.
func NewAuth(secret []byte, jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	if len(secret) == 0 && jwks == nil {
		panic("api.NewAuth: neither signing secret nor jwks configured")
	}
	var methods []string
	if len(secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return &Auth{
		Secret:      secret,
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods(methods)),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// ClaimsFromAuthHeader verifies the bearer token in h and returns its claims.
func (a *Auth) ClaimsFromAuthHeader(h string) (identity.Claims, error) {
	token, err := bearerToken(h)
	if err != nil {
		return identity.Claims{}, err
	}
	return a.ClaimsFromToken(token)
}

func (a *Auth) ClaimsFromToken(tokenStr string) (identity.Claims, error) {
	parsed, err := a.parser.Parse(tokenStr, a.keyFor)
	if err != nil {
		return identity.Claims{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Claims{}, errors.New("invalid claims")
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return identity.Claims{}, errors.New("token expired")
	}
	// one minute of clock skew for tokens from other issuers
	skewed := now.Add(time.Minute).Unix()
	if !claims.VerifyNotBefore(skewed, false) {
		return identity.Claims{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(skewed, false) {
		return identity.Claims{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return identity.Claims{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return identity.Claims{}, errors.New("invalid issuer")
	}
	return identity.ClaimsFromMap(claims)
}

func (a *Auth) keyFor(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(a.Secret) == 0 {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	case *jwt.SigningMethodRSA:
		return a.keyForToken(t)
	default:
		return nil, errors.New("invalid signing method")
	}
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
