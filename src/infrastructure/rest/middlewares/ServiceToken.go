package middlewares

import (
	"net/http"
	"strings"

	logger "go-campaign-dispatch/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// ServiceTokenMiddleware checks an HMAC signed bearer token issued to the
// calling service. With an empty secret the routes are left open.
func ServiceTokenMiddleware(secret string, loggerInstance *logger.Logger) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token not provided"})
			return
		}

		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil {
			loggerInstance.Warn("Rejected service token", zap.Error(err), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		if _, ok := claims["exp"].(float64); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		subject, _ := claims["sub"].(string)
		if subject == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Missing token subject"})
			return
		}

		c.Set("serviceSubject", subject)
		c.Next()
	}
}
