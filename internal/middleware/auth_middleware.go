package middleware

import (
	"net/http"
	"strings"

	"github.com/annel0/voxel-agent/internal/auth"
	"github.com/gin-gonic/gin"
)

// ClaimsKey ключ gin.Context с *auth.Claims
const ClaimsKey = "claims"

// BearerAuth проверяет токен в заголовке Authorization: Bearer <token>
func BearerAuth(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Отсутствует токен авторизации"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Неверный формат токена"})
			return
		}

		claims, err := issuer.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Недействительный токен"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireControl пропускает только операторов с правом управления
func RequireControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ClaimsKey)
		claims, _ := v.(*auth.Claims)
		if !ok || claims == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Отсутствует информация об операторе"})
			return
		}
		if !claims.CanControl() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Недостаточно прав доступа"})
			return
		}
		c.Next()
	}
}
