package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// jwksMinRefresh bounds how often the JWKS endpoint is re-fetched.
const jwksMinRefresh = 15 * time.Minute

// clockSkew is the allowed skew when checking token expiry.
const clockSkew = 30 * time.Second

// Validator checks a bearer token and returns the caller identity.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// JWTValidator validates JWTs with jwx against the configured key
// source.
type JWTValidator struct {
	keySet   jwk.Set
	issuer   string
	audience string
	logger   observability.Logger
}

var _ Validator = (*JWTValidator)(nil)

// ValidatorOption configures a JWTValidator.
type ValidatorOption func(*JWTValidator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ValidatorOption {
	return func(v *JWTValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator builds a JWTValidator from the auth configuration. The
// context governs the lifetime of the JWKS refresh cache.
func NewValidator(ctx context.Context, cfg config.AuthConfig, opts ...ValidatorOption) (*JWTValidator, error) {
	v := &JWTValidator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	keySet, err := buildKeySet(ctx, cfg)
	if err != nil {
		return nil, err
	}
	v.keySet = keySet

	return v, nil
}

// buildKeySet resolves the configured key source into a jwk.Set.
func buildKeySet(ctx context.Context, cfg config.AuthConfig) (jwk.Set, error) {
	switch {
	case cfg.JWKSURL != "":
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(jwksMinRefresh)); err != nil {
			return nil, fmt.Errorf("registering JWKS url: %w", err)
		}
		// Fetch once up front so a bad endpoint fails at startup.
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("fetching JWKS from %s: %w", cfg.JWKSURL, err)
		}
		return jwk.NewCachedSet(cache, cfg.JWKSURL), nil

	case cfg.Secret != "":
		key, err := jwk.FromRaw([]byte(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("building HMAC key: %w", err)
		}
		set := jwk.NewSet()
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding HMAC key: %w", err)
		}
		return set, nil

	case cfg.PublicKeyFile != "":
		pemBytes, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading public key file: %w", err)
		}
		key, err := jwk.ParseKey(pemBytes, jwk.WithPEM(true))
		if err != nil {
			return nil, fmt.Errorf("parsing public key: %w", err)
		}
		set := jwk.NewSet()
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding public key: %w", err)
		}
		return set, nil

	default:
		return nil, fmt.Errorf("no key source configured: one of jwksUrl, secret, or publicKeyFile is required")
	}
}

// Validate implements Validator. Signature and expiry are always
// checked; issuer and audience only when configured.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, util.NewAuthError("empty token", nil)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithContext(ctx),
		jwt.WithKeySet(v.keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse([]byte(token), parseOpts...)
	if err != nil {
		return nil, util.NewAuthError("token validation failed", err)
	}

	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return nil, util.NewAuthError("reading token claims", err)
	}

	return &Identity{
		Subject:   parsed.Subject(),
		Claims:    claims,
		ExpiresAt: parsed.Expiration(),
	}, nil
}
