package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "auth.userID"

// RequireUser rejects requests without a valid bearer token (401) and
// requests whose token subject does not match the :user_id path segment
// (403), before any handler runs. The verified identity is stored on the
// request context.
func RequireUser(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := service.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if pathUser := c.Param("user_id"); pathUser != "" && pathUser != claims.Subject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user id in path does not match authenticated user"})
			return
		}

		c.Set(identityKey, claims.Subject)
		c.Next()
	}
}

// UserID returns the verified identity set by RequireUser.
func UserID(c *gin.Context) string {
	value, _ := c.Get(identityKey)
	userID, _ := value.(string)
	return userID
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
