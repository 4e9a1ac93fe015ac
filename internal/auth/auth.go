// Package auth validates API keys presented to HTTP handlers.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a presented API key.
type Validator interface {
	Validate(key string) error
}

// StaticKey accepts exactly one key. An empty Key accepts nothing.
type StaticKey struct {
	Key string
}

func (s StaticKey) Validate(key string) error {
	if s.Key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Key), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(key string) error

func (f FuncValidator) Validate(key string) error {
	return f(key)
}

// RequireHeader rejects requests whose header value v does not accept.
func RequireHeader(header string, v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(c.GetHeader(header)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
			return
		}
		c.Next()
	}
}
