package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/janovincze/snapstream/internal/api/models"
)

// SubjectContextKey holds the authenticated token subject.
const SubjectContextKey = "auth_subject"

// ErrInvalidToken is returned for a token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// AuthConfig holds authentication middleware configuration.
type AuthConfig struct {
	// Enabled enables authentication
	Enabled bool

	// Secret is the HS256 signing secret
	Secret []byte

	// Issuer, when set, must match the token's "iss" claim
	Issuer string
}

// RequireToken returns a middleware that rejects requests without a valid
// bearer JWT. It allows every request when auth is disabled.
func RequireToken(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			models.RespondWithError(c, models.NewUnauthorizedError(c.Request.URL.Path, "Authentication required"))
			c.Abort()
			return
		}

		claims, err := ValidateToken(cfg, token)
		if err != nil {
			models.RespondWithError(c, models.NewUnauthorizedError(c.Request.URL.Path, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(SubjectContextKey, claims.Subject)
		c.Next()
	}
}

// ValidateToken parses token and checks its signature, expiry and issuer.
func ValidateToken(cfg AuthConfig, token string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cfg.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(c *gin.Context) string {
	return c.GetString(SubjectContextKey)
}

func bearerToken(header string) (string, bool) {
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || credential == "" {
		return "", false
	}
	return strings.TrimSpace(credential), true
}
