// Package authn gates the external ingest endpoints (spec.md §4.10): either
// a shared-secret header or an HMAC-signed JWT bearer token, whichever the
// deployment configures. Grounded on the teacher's security.JWTService
// (HS256 via lestrrat-go/jwx), scoped down to verification only since this
// service never issues its own tokens.
package authn

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Gate verifies inbound webhook requests.
type Gate struct {
	sharedSecret string
	jwtSecret    []byte
}

// New creates a Gate. Either or both of sharedSecret/jwtSecret may be empty;
// an empty Gate (both unset) lets every request through, matching the
// standalone/no-auth-configured deployment mode.
func New(sharedSecret, jwtSecret string) *Gate {
	g := &Gate{sharedSecret: sharedSecret}
	if jwtSecret != "" {
		g.jwtSecret = []byte(jwtSecret)
	}
	return g
}

// Enabled reports whether any verification is configured.
func (g *Gate) Enabled() bool {
	return g.sharedSecret != "" || len(g.jwtSecret) > 0
}

// Verify checks the request's X-Ingest-Secret header against the shared
// secret, or its Authorization: Bearer token against the JWT secret,
// accepting either one that is configured.
func (g *Gate) Verify(r *http.Request) error {
	if !g.Enabled() {
		return nil
	}
	if g.sharedSecret != "" && r.Header.Get("X-Ingest-Secret") == g.sharedSecret {
		return nil
	}
	if len(g.jwtSecret) > 0 {
		if tok := bearerToken(r); tok != "" {
			if _, err := jwt.Parse([]byte(tok), jwt.WithKey(jwa.HS256, g.jwtSecret)); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("unauthorized")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// Middleware returns an echo middleware enforcing Verify on every request in
// the group it's attached to.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := g.Verify(c.Request()); err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
