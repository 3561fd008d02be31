package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMissingClaim    = errors.New("required claim missing")
	ErrTokenTooOld     = errors.New("token older than the max allowed age")
	ErrUnknownSubject  = errors.New("token subject doesn't exist")
	ErrSecretLookup    = errors.New("failed to look up signing secret")
)

var allowedAlgs = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

type Claims struct {
	jwt.RegisteredClaims
}

// SecretFunc returns the signing secret of the user a token claims to
// belong to. It must return ErrUnknownSubject when there's no such user,
// any other error is treated as an infrastructure failure.
type SecretFunc func(ctx context.Context, userID string) ([]byte, error)

// JWTGuard validates bearer tokens signed with per-user secrets
type JWTGuard struct {
	Issuer         string        // Checked when not empty
	MaxTTL         time.Duration // Max age of a token based on iat, 0 disables it
	Leeway         time.Duration
	RequiredClaims []string

	now func() time.Time
}

func NewJWTGuard(issuer string, maxTTL, leeway time.Duration, required []string) *JWTGuard {
	return &JWTGuard{
		Issuer:         issuer,
		MaxTTL:         maxTTL,
		Leeway:         leeway,
		RequiredClaims: required,
		now:            time.Now,
	}
}

func (g *JWTGuard) timeNow() time.Time {
	if g.now == nil {
		return time.Now()
	}

	return g.now()
}

// Validate parses and verifies a token. Rejected tokens return an error
// wrapping ErrUnauthenticated, the wrapped reason is meant for logs only.
// A failing SecretFunc returns ErrSecretLookup instead.
func (g *JWTGuard) Validate(ctx context.Context, tokenStr string, secret SecretFunc) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgs),
		jwt.WithLeeway(g.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.timeNow),
	}

	if g.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.Issuer))
	}

	var (
		claims    = &Claims{}
		lookupErr error
	)

	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok || c.Subject == "" {
			return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
		}

		key, err := secret(ctx, c.Subject)
		if err != nil && !errors.Is(err, ErrUnknownSubject) {
			lookupErr = err
		}

		return key, err
	}, opts...)
	if err != nil {
		if lookupErr != nil {
			return nil, fmt.Errorf("%w, %w", ErrSecretLookup, lookupErr)
		}

		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if err := g.checkRequired(claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if g.MaxTTL > 0 {
		if claims.IssuedAt == nil {
			return nil, fmt.Errorf("%w: %w: iat", ErrUnauthenticated, ErrMissingClaim)
		}

		if g.timeNow().Sub(claims.IssuedAt.Time) > g.MaxTTL {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenTooOld)
		}
	}

	return claims, nil
}

func (g *JWTGuard) checkRequired(c *Claims) error {
	for _, name := range g.RequiredClaims {
		var present bool

		switch name {
		case "sub":
			present = c.Subject != ""
		case "exp":
			present = c.ExpiresAt != nil
		case "iat":
			present = c.IssuedAt != nil
		case "nbf":
			present = c.NotBefore != nil
		case "iss":
			present = c.Issuer != ""
		case "aud":
			present = len(c.Audience) > 0
		case "jti":
			present = c.ID != ""
		default:
			return fmt.Errorf("unknown required claim %s", name)
		}

		if !present {
			return fmt.Errorf("%w: %s", ErrMissingClaim, name)
		}
	}

	return nil
}

// Issue signs a new HS256 token for userID
func (g *JWTGuard) Issue(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := g.timeNow()

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    g.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	return t.SignedString(secret)
}
