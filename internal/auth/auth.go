package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

const issuer = "doubanlink"

// PlaceholderSecret is the value shipped in sample env files. It is public,
// so NewAuth refuses it.
const PlaceholderSecret = "change-me-in-production"

// Claims are the admin token claims. Admin gates the mapping management
// routes.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

// NewAuth signs HS256 tokens with secret. expiresIn <= 0 issues tokens that
// never expire.
func NewAuth(secret string, expiresIn time.Duration) (*Auth, error) {
	if secret == "" || secret == PlaceholderSecret {
		return nil, ErrMissingSecret
	}
	return &Auth{secret: []byte(secret), expiresIn: expiresIn, now: time.Now}, nil
}

func (a *Auth) IssueToken(subject string, admin bool) (string, error) {
	now := a.now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.expiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiresIn))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (a *Auth) ParseToken(token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
