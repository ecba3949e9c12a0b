package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeVendorJWT(tokenString string, secret []byte) (*VendorClaim, error) {
	claim := &VendorClaim{}
	_, err := gojwt.ParseWithClaims(tokenString, claim, func(*gojwt.Token) (any, error) {
		return secret, nil
	}, gojwt.WithValidMethods([]string{tokenSignatureAlg.Alg()}))
	return claim, err
}

func TestVendorToken_RoundTrip(t *testing.T) {
	secret := []byte("app-secret")
	claim := NewVendorClaim("dev-1", "acme", "attendance-ingest", time.Minute, time.Now())

	token, err := GenerateJWT(claim, secret)
	require.NoError(t, err)

	decoded, err := decodeVendorJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", decoded.DeviceID)
	assert.Equal(t, "acme", decoded.CompanyID)
	assert.NotEmpty(t, decoded.ID)
}

func TestVendorToken_Rejects(t *testing.T) {
	claim := NewVendorClaim("dev-1", "acme", "", time.Minute, time.Now())
	token, err := GenerateJWT(claim, []byte("right"))
	require.NoError(t, err)

	_, err = decodeVendorJWT(token, []byte("wrong"))
	assert.Error(t, err)

	expired := NewVendorClaim("dev-1", "acme", "", time.Minute, time.Now().Add(-time.Hour))
	token, err = GenerateJWT(expired, []byte("right"))
	require.NoError(t, err)
	_, err = decodeVendorJWT(token, []byte("right"))
	assert.Error(t, err)

	_, err = GenerateJWT(claim, nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
