package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"attendance-ingest/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestRoundTrip(t *testing.T) {
	v := New(hexKey)
	for _, s := range []string{"a", "hunter2", "pässwörd ✓", strings.Repeat("x", 4096)} {
		token, err := v.Encrypt(s)
		require.NoError(t, err)
		assert.NotEqual(t, s, token)

		got := v.Decrypt(token)
		require.True(t, got.Ok(), "status %s", got.Status)
		assert.Equal(t, s, got.Value)
	}
}

func TestEncrypt_Empty(t *testing.T) {
	token, err := New("").Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, Empty, New(hexKey).Decrypt("").Status)
}

func TestTokenLayout(t *testing.T) {
	token, err := New(hexKey).Encrypt("abc")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, NonceSize+TagSize+3)
}

func TestDerivedKey_PassphraseIsDeterministic(t *testing.T) {
	token, err := New("correct horse battery staple").Encrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", New("correct horse battery staple").Decrypt(token).Value)

	raw := base64.StdEncoding.EncodeToString(make([]byte, KeySize))
	key, err := DeriveKey(raw)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, KeySize), key)
}

func TestDecrypt_WrongKeyIsUnreadable(t *testing.T) {
	token, err := New(hexKey).Encrypt("secret")
	require.NoError(t, err)

	got := New("another key").Decrypt(token)
	assert.Equal(t, Unreadable, got.Status)
	assert.Empty(t, got.Value)
	assert.Equal(t, token, got.OrRaw())
}

func TestDecrypt_TamperedTokenIsUnreadable(t *testing.T) {
	v := New(hexKey)
	token, err := v.Encrypt("secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(token)
	raw[len(raw)-1] ^= 0xff

	assert.Equal(t, Unreadable, v.Decrypt(base64.StdEncoding.EncodeToString(raw)).Status)
}

func TestDecrypt_Garbage(t *testing.T) {
	v := New(hexKey)
	for _, in := range []string{"plaintext-password", "!!!", "AAAA", base64.StdEncoding.EncodeToString(make([]byte, 27))} {
		got := v.Decrypt(in)
		assert.Equal(t, Unreadable, got.Status, in)
		assert.Equal(t, in, got.OrRaw())
	}
}

func TestDecrypt_LegacyHash(t *testing.T) {
	got := New(hexKey).Decrypt("$2b$10$abcdefghijklmnopqrstuv")
	assert.Equal(t, LegacyHash, got.Status)
	assert.Empty(t, got.OrRaw())
}

func TestMissingKey_FailsOnlyOnUse(t *testing.T) {
	v := New("")
	assert.False(t, v.Configured())

	_, err := v.Encrypt("secret")
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Equal(t, Unreadable, v.Decrypt("c29tZXRoaW5n").Status)
}

func TestWithDecryptedSecrets_DoesNotMutate(t *testing.T) {
	v := New(hexKey)
	pw, _ := v.Encrypt("device-pw")
	key, _ := v.Encrypt("api-key")

	device := storage.Device{
		ID:           "d1",
		Password:     pw,
		VendorConfig: &storage.VendorConfig{APIKey: key, APISecret: "legacy-plain"},
	}
	out := v.WithDecryptedSecrets(device)

	assert.Equal(t, "device-pw", out.Password)
	assert.Equal(t, "api-key", out.VendorConfig.APIKey)
	assert.Equal(t, "legacy-plain", out.VendorConfig.APISecret)

	assert.Equal(t, pw, device.Password)
	assert.Equal(t, key, device.VendorConfig.APIKey)
}

func TestReseal_OnlyPlaintext(t *testing.T) {
	v := New(hexKey)

	token, changed, err := v.Reseal("plain-password")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "plain-password", v.Decrypt(token).Value)

	sealed, err := v.Encrypt("secret")
	require.NoError(t, err)
	other, err := New("another passphrase").Encrypt("secret")
	require.NoError(t, err)

	for _, stored := range []string{"", "$2a$10$abcdefghijklmnopqrstuv", sealed, other} {
		got, changed, err := v.Reseal(stored)
		require.NoError(t, err)
		assert.False(t, changed, stored)
		assert.Equal(t, stored, got)
	}

	_, changed, err = New("").Reseal("plain-password")
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.False(t, changed)
}
