// Package jwt mints the bearer tokens presented to vendor
// websocket endpoints.
package jwt

import (
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrEmptySecret = errors.New("signing secret is empty")

var tokenSignatureAlg = gojwt.SigningMethodHS256

// Default lifetime of a vendor token. A connection presents it once at
// the handshake.
const DefaultTTL = 10 * time.Minute

// Claim identifying a device to its vendor cloud.
type VendorClaim struct {
	DeviceID  string `json:"device_id"`
	CompanyID string `json:"company_id"`
	gojwt.RegisteredClaims
}

func NewVendorClaim(deviceID, companyID, issuer string, ttl time.Duration, now time.Time) VendorClaim {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return VendorClaim{
		DeviceID:  deviceID,
		CompanyID: companyID,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   deviceID,
			IssuedAt:  gojwt.NewNumericDate(now.UTC()),
			ExpiresAt: gojwt.NewNumericDate(now.UTC().Add(ttl)),
		},
	}
}

// Generic JWT token generation function
func GenerateJWT(claims gojwt.Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	token := gojwt.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString(secret)
}
