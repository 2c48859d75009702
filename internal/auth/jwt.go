// Package auth выпускает и проверяет bearer-токены операторов агента.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role уровень доступа оператора
type Role string

const (
	// RoleViewer только чтение состояния
	RoleViewer Role = "viewer"
	// RoleOperator запуск и отмена навигации, сброс кеша
	RoleOperator Role = "operator"
)

const issuer = "voxel-agent"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWeakSecret   = errors.New("secret key must be at least 32 bytes")
	ErrUnknownRole  = errors.New("unknown role")
)

// Claims represents JWT claims
type Claims struct {
	Operator string `json:"operator"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// CanControl разрешены ли управляющие операции
func (c *Claims) CanControl() bool {
	return c.Role == RoleOperator
}

// TokenIssuer подписывает и проверяет токены HS256
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer создаёт издателя. secret в base64 (не короче 32 байт после
// декодирования); пустой secret генерирует случайный ключ на время жизни процесса.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	var key []byte
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}
		if len(decoded) < 32 {
			return nil, ErrWeakSecret
		}
		key = decoded
	}

	return &TokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for the operator
func (ti *TokenIssuer) Issue(operator string, role Role) (string, error) {
	if role != RoleViewer && role != RoleOperator {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	now := ti.now()
	claims := &Claims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Validate checks token validity and returns its claims
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key (base64)
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
