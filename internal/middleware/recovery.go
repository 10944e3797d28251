package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// RecoveryMiddleware turns a handler panic into a 500 response instead of
// taking the process down with it.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered panic in %s %s: %v\n%s",
					c.Request.Method, c.Request.URL.Path, r, debug.Stack())

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}

// SafeGoRoutine runs fn in a goroutine; a panic is logged under name rather
// than crashing the server.
func SafeGoRoutine(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered panic in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()

		fn()
	}()
}
