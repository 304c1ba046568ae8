package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Скоупы операторского API.
const (
	ScopeEvaluate = "policy.evaluate" // /evaluate, /record, /execute
	ScopeAdmin    = "policy.admin"    // /pause, /reload
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "policy.admin": true
	jwt.RegisteredClaims
}

// Allowed — есть ли у токена скоуп. policy.admin покрывает всё.
func (c *CustomClaims) Allowed(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
