package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carry the tenant identity. Handlers pass the tenant id explicitly
// into the engine; nothing downstream reads it from ambient state.
type Claims struct {
	TenantID string `json:"tenantId"`
	Subject  string `json:"subject"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateJWT(secret, tenantID, subject, role string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		TenantID: tenantID,
		Subject:  subject,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.TenantID == "" {
			return nil, errors.New("token missing tenant id")
		}
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
