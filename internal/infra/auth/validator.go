package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// BaseValidator содержит общую логику проверки RS256
type BaseValidator struct {
	publicKey *rsa.PublicKey
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{publicKey: pubKey}
}

// VerifyToken реализует интерфейс auth.TokenValidator.
// Он проверяет JWT токен, подписанный асимметричным ключом RS256.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = bearer(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &domain.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*domain.CustomClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	return claims, nil
}

// StaticValidator — один общий токен оператора. В конфиге лежит только bcrypt-хэш.
type StaticValidator struct {
	hash   []byte
	scopes map[string]bool
}

func NewStaticValidator(hash string, scopes ...string) *StaticValidator {
	m := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		m[s] = true
	}
	return &StaticValidator{hash: []byte(hash), scopes: m}
}

func (v *StaticValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = bearer(tokenStr)
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(tokenStr)); err != nil {
		return nil, ErrInvalidToken
	}
	return &domain.CustomClaims{UserID: "static", Scopes: v.scopes}, nil
}

// Chain пробует валидаторы по очереди, побеждает первый успешный.
type Chain []TokenValidator

func (c Chain) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	var errs []error
	for _, v := range c {
		claims, err := v.VerifyToken(tokenStr)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrInvalidToken
	}
	return nil, errors.Join(errs...)
}

// HashToken — bcrypt-хэш для auth.token_hash.
func HashToken(token string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// IssueToken подписывает токен ЗАКРЫТЫМ КЛЮЧОМ (RS256).
func IssueToken(key *rsa.PrivateKey, subject string, scopes []string, ttl time.Duration) (*domain.TokenResponse, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	m := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		m[s] = true
	}
	claims := &domain.CustomClaims{
		UserID: subject,
		Scopes: m,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "policyctl",
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи (только для policyctl)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func bearer(s string) string {
	s = strings.TrimPrefix(s, "Bearer ")
	return strings.TrimSpace(s)
}
