// Package delta implements the pure core of the sync cycle: change-token
// handling, manifest comparison and deterministic conflict resolution.
package delta

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/selfvault/syncengine/internal/common"
)

// TokenIssuer signs and verifies change tokens. A change token is opaque to
// clients; server-side it carries the principal, the device and the sync
// cursor the device last acknowledged. Signing makes tampering detectable
// without a server-side token table.
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

type tokenClaims struct {
	PrincipalID string `json:"principal_id"`
	DeviceID    string `json:"device_id"`
	Cursor      int64  `json:"cursor"`
	jwt.RegisteredClaims
}

// Issue creates a change token for the given sync position.
func (i *TokenIssuer) Issue(principalID, deviceID string, cursor int64) (string, error) {
	claims := tokenClaims{
		PrincipalID: principalID,
		DeviceID:    deviceID,
		Cursor:      cursor,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token signing error: %w", err)
	}
	return signed, nil
}

// Parse verifies the token signature and returns the embedded cursor. The
// principal and device must match the caller's identity; a token minted for
// another device is invalid.
func (i *TokenIssuer) Parse(tokenString, principalID, deviceID string) (int64, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if claims.PrincipalID != principalID || claims.DeviceID != deviceID {
		return 0, common.ErrInvalidToken
	}
	return claims.Cursor, nil
}
