package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthToken issues and checks HS256 device tokens signed with the
// server secret.
type AuthToken struct {
	secretKey []byte
	lifetime  time.Duration
}

type deviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

const defaultTokenLifetime = 24 * time.Hour

func NewAuthToken(secretKey string, lifetime time.Duration) *AuthToken {
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return &AuthToken{secretKey: []byte(secretKey), lifetime: lifetime}
}

// GenerateToken creates a signed token for deviceID and returns it with
// its expiry time.
func (a *AuthToken) GenerateToken(deviceID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(a.lifetime)
	claims := deviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken checks signature and expiry and returns the embedded
// device id.
func (a *AuthToken) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &deviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*deviceClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.DeviceID == "" {
		return "", errors.New("token carries no device id")
	}
	return claims.DeviceID, nil
}
