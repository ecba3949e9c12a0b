package routes

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// Proxies in front of the relay rename the signature header, so every
// known spelling is checked in order.
var signatureHeaders = []string{
	"X-Signature",
	"X-Signature-SHA256",
	"X-Hub-Signature-256",
	"X-Webhook-Signature",
	"X-Relay-Signature",
}

type signatureResult int

const (
	signatureMissing signatureResult = iota
	signatureValid
	signatureInvalid
	// A header is present but there is no secret to check it with.
	signatureUnverifiable
)

func (r signatureResult) String() string {
	switch r {
	case signatureMissing:
		return "missing"
	case signatureValid:
		return "valid"
	case signatureInvalid:
		return "invalid"
	case signatureUnverifiable:
		return "unverifiable"
	}
	return "unknown"
}

func signatureHeader(header http.Header) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func computeSignature(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// verifySignature checks an HMAC-SHA256 of the raw body, hex or base64
// encoded, with an optional "sha256=" prefix.
func verifySignature(secret string, header http.Header, body []byte) signatureResult {
	provided := signatureHeader(header)
	if provided == "" {
		return signatureMissing
	}
	if secret == "" {
		return signatureUnverifiable
	}
	if len(provided) > 7 && strings.EqualFold(provided[:7], "sha256=") {
		provided = provided[7:]
	}

	expected := computeSignature([]byte(secret), body)

	if decoded, err := hex.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return signatureValid
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
			return signatureValid
		}
	}
	return signatureInvalid
}
