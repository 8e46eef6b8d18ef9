package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	defaultIssuer     = "hatchup"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload for both access and refresh tokens. Roles is a
// snapshot taken at minting time and is informational only.
type Claims struct {
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies session tokens.
type Issuer struct {
	issuer     string
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer) error

// WithHMACSecret signs tokens with HS256.
func WithHMACSecret(secret string) IssuerOption {
	return func(i *Issuer) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("auth: hmac secret is empty")
		}
		i.method = jwt.SigningMethodHS256
		i.signKey = []byte(secret)
		i.verifyKey = []byte(secret)
		return nil
	}
}

// WithRS256Keys signs tokens with an RSA key pair in PEM form. An empty
// public key is derived from the private key.
func WithRS256Keys(privatePEM, publicPEM string) IssuerOption {
	return func(i *Issuer) error {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(privatePEM)))
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		var pub *rsa.PublicKey
		if strings.TrimSpace(publicPEM) == "" {
			pub = &priv.PublicKey
		} else if pub, err = jwt.ParseRSAPublicKeyFromPEM([]byte(strings.TrimSpace(publicPEM))); err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		i.method = jwt.SigningMethodRS256
		i.signKey = priv
		i.verifyKey = pub
		return nil
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) IssuerOption {
	return func(i *Issuer) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			i.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer builds an Issuer. A signing key option is required.
func NewIssuer(opts ...IssuerOption) (*Issuer, error) {
	i := &Issuer{
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.method == nil {
		return nil, errors.New("auth: no signing key configured")
	}
	return i, nil
}

// Issue mints an access/refresh pair for user embedding roles and the email
// as username.
func (i *Issuer) Issue(user User, roles []string) (TokenPair, error) {
	if strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	access, accessExp, err := i.sign(user, roles, TokenTypeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(user, roles, TokenTypeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess mints only an access token.
func (i *Issuer) IssueAccess(user User, roles []string) (string, time.Time, error) {
	return i.sign(user, roles, TokenTypeAccess, i.now().UTC(), i.accessTTL)
}

func (i *Issuer) sign(user User, roles []string, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Username:  user.Email,
		Roles:     dedupeRoles(roles),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccess validates an access token.
func (i *Issuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(token, TokenTypeAccess)
}

// ParseRefresh validates a refresh token.
func (i *Issuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(token, TokenTypeRefresh)
}

func (i *Issuer) parse(token, tokenType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != i.method.Alg() {
			return nil, ErrInvalidToken
		}
		return i.verifyKey, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
