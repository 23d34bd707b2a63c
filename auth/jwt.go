package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig controls validation of HS256 access tokens minted by the
// platform's identity service. The actor id is carried in the sub claim.
type JWTConfig struct {
	// Secret is the shared HMAC signing secret.
	Secret []byte
	// Issuer, if set, is required to match the iss claim.
	Issuer string
	// Leeway tolerates clock skew on exp/nbf. Defaults to 60s.
	Leeway time.Duration
}

// JWT validates HS256 bearer tokens.
type JWT struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWT constructs a JWT authenticator.
func NewJWT(cfg JWTConfig) (*JWT, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWT{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

func (a *JWT) CheckAuthentication(ctx context.Context, tok string) (ActorInfo, error) {
	if tok == "" {
		return nil, ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	_, err := a.parser.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return actorInfo(claims.Subject), nil
}

var _ Authenticator = (*JWT)(nil)
