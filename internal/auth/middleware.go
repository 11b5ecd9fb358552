package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Verifier resolves a bearer token to a caller identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// TrustedIdentifierVerifier treats the bearer value itself as the user id.
// This mirrors the upstream deployment where the API gateway strips and
// verifies session tokens before the request reaches this service. Swap in
// a real token verifier when running without such a gateway.
type TrustedIdentifierVerifier struct{}

var errEmptyIdentifier = errors.New("empty identifier")

// Verify accepts any non-empty opaque identifier.
func (TrustedIdentifierVerifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errEmptyIdentifier
	}
	return &Identity{UserID: token}, nil
}

// Middleware enforces bearer auth and injects the identity into the
// request context.
func Middleware(verifier Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("auth failure: missing Authorization header", "path", c.Request.URL.Path)
			respondUnauthorized(c, "missing authorization header")
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			logger.Warn("auth failure: malformed Authorization header", "path", c.Request.URL.Path)
			respondUnauthorized(c, "invalid authorization header")
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("auth failure: token rejected", "path", c.Request.URL.Path, "error", err)
			respondUnauthorized(c, "invalid token")
			return
		}

		ctx := WithIdentity(c.Request.Context(), identity)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
	})
}
