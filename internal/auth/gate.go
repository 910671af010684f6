package auth

import (
	"net/http"
	"strings"

	"github.com/CK-Technology/ghostpanel/internal/config"
	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// Default token location.
const (
	DefaultHeader = "Authorization"
	DefaultPrefix = "Bearer "
)

// Gate extracts and validates bearer tokens for protected routes.
// When the gate is not required, Authenticate admits everything.
type Gate struct {
	required  bool
	header    string
	prefix    string
	validator Validator
	logger    observability.Logger
}

// NewGate builds a Gate. validator may be nil only when cfg.Required
// is false.
func NewGate(cfg config.AuthConfig, validator Validator, logger observability.Logger) *Gate {
	header := cfg.Header
	if header == "" {
		header = DefaultHeader
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Gate{
		required:  cfg.Required,
		header:    header,
		prefix:    prefix,
		validator: validator,
		logger:    logger,
	}
}

// Required reports whether the gate rejects unauthenticated requests.
func (g *Gate) Required() bool { return g.required }

// Authenticate validates the request's bearer token. It returns the
// caller identity, or nil when the gate is disabled. A missing or
// invalid token on an enabled gate yields an AuthError wrapping
// ErrUnauthorized semantics.
func (g *Gate) Authenticate(r *http.Request) (*Identity, error) {
	if !g.required {
		return nil, nil
	}

	token, err := g.extractToken(r)
	if err != nil {
		return nil, err
	}

	identity, err := g.validator.Validate(r.Context(), token)
	if err != nil {
		g.logger.Debug("token rejected",
			observability.String("path", r.URL.Path),
			observability.Error(err),
		)
		return nil, err
	}

	return identity, nil
}

// extractToken pulls the raw token out of the configured header.
func (g *Gate) extractToken(r *http.Request) (string, error) {
	value := r.Header.Get(g.header)
	if value == "" {
		return "", util.NewAuthError("missing credentials", nil)
	}

	if !strings.HasPrefix(value, g.prefix) {
		return "", util.NewAuthError("malformed credentials", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(value, g.prefix))
	if token == "" {
		return "", util.NewAuthError("empty token", nil)
	}

	return token, nil
}
