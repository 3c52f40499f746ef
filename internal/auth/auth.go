// Package auth provides OpenID Connect bearer-token verification for the
// API surface. The engine itself never evaluates permissions; this is
// transport-level gating only and is disabled by default.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"

	"engagement-engine/backend/internal/config"
)

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// subjectKey is the echo context key the verified token subject is stored
// under; handlers use it as the acting user id.
const subjectKey = "auth_subject"

// Auth verifies bearer tokens against an OIDC issuer.
type Auth struct {
	verifier *oidc.IDTokenVerifier
	logger   Logger
	enabled  bool
	audience string
}

// New creates an Auth from the application configuration. When auth is
// disabled the middleware passes every request through.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	if !cfg.Auth.Enabled {
		logger.Info("auth disabled, API is open")
		return &Auth{logger: logger}, nil
	}
	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth enabled but issuer is not configured")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	// Access tokens often carry an API audience rather than a client id, so
	// the audience check is explicit instead of the default client check.
	oidcCfg := &oidc.Config{SkipClientIDCheck: true}
	verifier := provider.Verifier(oidcCfg)

	return &Auth{
		verifier: verifier,
		logger:   logger,
		enabled:  true,
		audience: cfg.Auth.Audience,
	}, nil
}

// Middleware returns an echo middleware enforcing a valid bearer token.
func (a *Auth) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.enabled {
				return next(c)
			}

			raw := bearerToken(c.Request())
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := a.verifier.Verify(c.Request().Context(), raw)
			if err != nil {
				a.logger.Debug("token verification failed", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if a.audience != "" && !hasAudience(token.Audience, a.audience) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token audience mismatch")
			}

			c.Set(subjectKey, token.Subject)
			return next(c)
		}
	}
}

// Subject returns the verified token subject for the request, or empty when
// auth is disabled.
func Subject(c echo.Context) string {
	if v, ok := c.Get(subjectKey).(string); ok {
		return v
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasAudience(audiences []string, want string) bool {
	for _, aud := range audiences {
		if aud == want {
			return true
		}
	}
	return false
}
