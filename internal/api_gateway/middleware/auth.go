package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/escrow-settlement/internal/domain/user"
)

// ActorKey is the key the authenticated caller is stored under in the context
const ActorKey = "actor"

const tokenIssuer = "escrow-settlement"

// Claims are the bearer token claims identifying a platform user
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for actor valid for ttl.
func IssueToken(secret string, actor user.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   actor.ID,
		Username: actor.Username,
		Email:    actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies tokenStr and returns its claims.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "Missing authorization header")
			return
		}

		claims, err := bearerClaims(secret, header)
		if err != nil {
			logger.Debug("Bearer token rejected", "error", err, "path", c.Request.URL.Path)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		setActor(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid bearer token is present and
// lets anonymous requests through. A malformed or expired token is rejected.
func OptionalAuth(secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		claims, err := bearerClaims(secret, header)
		if err != nil {
			logger.Debug("Bearer token rejected", "error", err, "path", c.Request.URL.Path)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		setActor(c, claims)
		c.Next()
	}
}

// GetActor returns the authenticated caller if there is one
func GetActor(c *gin.Context) (*user.Actor, bool) {
	v, exists := c.Get(ActorKey)
	if !exists {
		return nil, false
	}
	actor, ok := v.(*user.Actor)
	return actor, ok
}

func bearerClaims(secret, header string) (*Claims, error) {
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == header {
		return nil, fmt.Errorf("invalid authorization format")
	}
	return ParseToken(secret, tokenStr)
}

func setActor(c *gin.Context, claims *Claims) {
	c.Set(ActorKey, &user.Actor{
		ID:       claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	})
}

func abortUnauthorized(c *gin.Context, message string) {
	response := gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	}
	if correlationID := GetCorrelationID(c); correlationID != "" {
		response["correlation_id"] = correlationID
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, response)
}
