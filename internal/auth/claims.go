// Package auth issues and validates device enrollment tokens.
//
// When a device completes registration the router hands it a signed
// HS256 token in the acknowledgment message. The device presents the
// token on later interactions with outer layers; this core only issues
// and parses, it never stores tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenInvalid indicates a token failed signature, expiry, or claim checks.
var ErrTokenInvalid = errors.New("auth: invalid token")

// defaultTokenTTL applies when the configured TTL is missing or nonsense.
const defaultTokenTTL = 15 * time.Minute

// DeviceClaims extends JWT standard claims with the device's type tag.
// Subject carries the canonical device ID.
type DeviceClaims struct {
	jwt.RegisteredClaims
	DeviceType string `json:"device_type"`
}

// GenerateDeviceToken creates a signed enrollment token for a device.
// Tokens are validated by signature only (no DB hit).
func GenerateDeviceToken(deviceID, deviceType, secret string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("%w: missing device id", ErrTokenInvalid)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		DeviceType: deviceType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing device token: %w", err)
	}
	return signed, nil
}

// ParseDeviceToken validates and parses an enrollment token, returning
// the claims. It checks the signature, expiry, and required fields.
func ParseDeviceToken(tokenString, secret string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
