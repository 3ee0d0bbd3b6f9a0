package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ClaimsContextKey is the echo context key holding the validated *Claims
const ClaimsContextKey = "claims"

// Roles accepted by the API
const (
	RoleService = "service" // upload pipeline and schedulers
	RoleManager = "manager" // dashboard users
)

// Claims represents the claims in our JWT token
type Claims struct {
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator. An empty secret disables authentication.
func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	if secret == "" {
		logger.Warn("JWT secret not configured, API authentication disabled")
	}
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Enabled reports whether a secret is configured. A nil Authenticator is disabled.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// GenerateToken generates a token for subject valid for ttl
func (a *Authenticator) GenerateToken(subject, role, restaurantID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret not configured")
	}

	now := time.Now()
	claims := &Claims{
		Role:         role,
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}

// Middleware rejects requests without a valid bearer token. It passes every
// request through when authentication is disabled.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.Enabled() {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			token, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || token == "" {
				a.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "missing_token",
					"message": "JWT token is required in Authorization header",
				})
			}

			claims, err := a.ValidateToken(token)
			if err != nil {
				a.logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "invalid_token",
					"message": "Invalid or expired JWT token",
				})
			}

			if claims.Role != RoleService && claims.Role != RoleManager {
				a.logger.Warn("Request rejected: invalid role", zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":   "invalid_role",
					"message": "Token role is not allowed to call this API",
				})
			}

			c.Set(ClaimsContextKey, claims)
			return next(c)
		}
	}
}
