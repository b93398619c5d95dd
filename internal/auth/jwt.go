package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "openteleopcore"

var ErrInvalidToken = errors.New("invalid token")

// OperatorClaims identify the person behind a teleoperation client.
type OperatorClaims struct {
	OperatorID uuid.UUID `json:"sub"`
	Operator   string    `json:"operator"`
	Role       Role      `json:"role"`
	jwt.RegisteredClaims
}

type JWTHandler struct {
	secretKey []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewJWTHandler(secretKey string, tokenTTL time.Duration) *JWTHandler {
	return &JWTHandler{
		secretKey: []byte(secretKey),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// GenerateToken signs an operator token valid for the configured TTL.
func (j *JWTHandler) GenerateToken(operator string, role Role) (string, error) {
	if operator == "" {
		return "", fmt.Errorf("operator name is required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := j.now()
	claims := OperatorClaims{
		OperatorID: uuid.New(),
		Operator:   operator,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

// ValidateToken validates and parses an operator token
func (j *JWTHandler) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		if !claims.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
