// Package vault encrypts device credentials at rest.
//
// Tokens are base64(nonce ‖ tag ‖ ciphertext) using AES-256-GCM with a
// 12 byte random nonce and a 16 byte tag.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// Key material that is not a raw key is stretched with scrypt under a
// fixed salt. Changing any of these invalidates every stored token.
var (
	derivationSalt = []byte("attendance-ingest.vault.v1")
	scryptN        = 16384
	scryptR        = 8
	scryptP        = 1
)

var (
	ErrMissingKey   = errors.New("vault key is not configured")
	ErrInvalidToken = errors.New("invalid vault token")
)

// Prefixes of password hashes written by the previous credential scheme.
var legacyHashPrefixes = []string{"$2a$", "$2b$", "$2y$", "$argon2", "pbkdf2", "$scrypt"}

type Status int

const (
	// Decrypted means Value holds the plaintext.
	Decrypted Status = iota
	// Empty means there was nothing stored.
	Empty
	// LegacyHash means the stored value is a one way hash and cannot be recovered.
	LegacyHash
	// Unreadable means the value is not a token for this key. It may be
	// plaintext stored before encryption was introduced.
	Unreadable
)

func (s Status) String() string {
	switch s {
	case Decrypted:
		return "decrypted"
	case Empty:
		return "empty"
	case LegacyHash:
		return "legacy_hash"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Secret is the result of Decrypt.
type Secret struct {
	Value  string
	Status Status
	raw    string
}

func (s Secret) Ok() bool { return s.Status == Decrypted }

// OrRaw returns the plaintext, or the stored value itself when it could
// not be decrypted. Legacy hashes are never returned.
func (s Secret) OrRaw() string {
	switch s.Status {
	case Decrypted:
		return s.Value
	case Unreadable:
		return s.raw
	default:
		return ""
	}
}

type Vault struct {
	material string

	once sync.Once
	aead cipher.AEAD
	err  error

	logger *slog.Logger
}

// New returns a vault for the given key material. Key problems surface
// on first use, not here.
func New(material string) *Vault {
	return &Vault{
		material: material,
		logger:   slog.With("component", "vault"),
	}
}

// DeriveKey turns key material into a 32 byte key. 64 hex characters or
// base64 of 32 bytes are used as is.
func DeriveKey(material string) ([]byte, error) {
	if material == "" {
		return nil, ErrMissingKey
	}
	if len(material) == 2*KeySize {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(material); err == nil && len(key) == KeySize {
		return key, nil
	}
	return scrypt.Key([]byte(material), derivationSalt, scryptN, scryptR, scryptP, KeySize)
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	v.once.Do(func() {
		key, err := DeriveKey(v.material)
		if err != nil {
			v.err = err
			return
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			v.err = fmt.Errorf("creating AES cipher: %w", err)
			return
		}
		v.aead, v.err = cipher.NewGCM(block)
	})
	return v.aead, v.err
}

// Configured reports whether secret operations can succeed.
func (v *Vault) Configured() bool {
	_, err := v.cipher()
	return err == nil
}

// Encrypt returns a storage token for plaintext. Empty input yields an
// empty token and no error.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := v.cipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal appends ciphertext ‖ tag; the stored layout puts the tag first.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a token, returning an error for anything that is not a
// valid token under this key.
func (v *Vault) Open(token string) (string, error) {
	aead, err := v.cipher()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) < NonceSize+TagSize {
		return "", ErrInvalidToken
	}
	nonce, tag, ct := raw[:NonceSize], raw[NonceSize:NonceSize+TagSize], raw[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}

// Decrypt never fails. Callers inspect Status to decide whether an
// unreadable credential is usable.
func (v *Vault) Decrypt(token string) Secret {
	if token == "" {
		return Secret{Status: Empty}
	}
	if IsLegacyHash(token) {
		return Secret{Status: LegacyHash, raw: token}
	}
	plain, err := v.Open(token)
	if err != nil {
		if errors.Is(err, ErrMissingKey) {
			v.logger.Warn("Cannot decrypt secret", "error", err)
		}
		return Secret{Status: Unreadable, raw: token}
	}
	return Secret{Value: plain, Status: Decrypted}
}

// Reseal encrypts a credential that was stored as plaintext before the
// vault existed. It reports false and returns stored unchanged for empty
// values, legacy hashes, readable tokens and tokens sealed under another
// key.
func (v *Vault) Reseal(stored string) (string, bool, error) {
	if v.Decrypt(stored).Status != Unreadable || looksSealed(stored) {
		return stored, false, nil
	}
	token, err := v.Encrypt(stored)
	if err != nil {
		return stored, false, err
	}
	return token, true, nil
}

func looksSealed(value string) bool {
	raw, err := base64.StdEncoding.DecodeString(value)
	return err == nil && len(raw) >= NonceSize+TagSize
}

func IsLegacyHash(value string) bool {
	for _, prefix := range legacyHashPrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
