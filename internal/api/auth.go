package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireToken rejects requests without "Authorization: Bearer <token>".
// An empty token rejects every request.
func RequireToken(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		presented, ok := strings.CutPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid api token"})
			return
		}
		ctx.Next()
	}
}
