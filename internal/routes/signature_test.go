package routes

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"msgType":"AccessControl"}`)
	mac := computeSignature([]byte(testSecret), body)

	cases := map[string]struct {
		secret string
		header string
		value  string
		want   signatureResult
	}{
		"hex":            {secret: testSecret, header: "X-Signature", value: hex.EncodeToString(mac), want: signatureValid},
		"prefixed hex":   {secret: testSecret, header: "X-Hub-Signature-256", value: "sha256=" + hex.EncodeToString(mac), want: signatureValid},
		"base64":         {secret: testSecret, header: "X-Signature-SHA256", value: base64.StdEncoding.EncodeToString(mac), want: signatureValid},
		"prefixed b64":   {secret: testSecret, header: "X-Webhook-Signature", value: "SHA256=" + base64.StdEncoding.EncodeToString(mac), want: signatureValid},
		"wrong":          {secret: testSecret, header: "X-Signature", value: hex.EncodeToString([]byte("nope")), want: signatureInvalid},
		"not encoded":    {secret: testSecret, header: "X-Signature", value: "%%%", want: signatureInvalid},
		"missing":        {secret: testSecret, want: signatureMissing},
		"no secret":      {header: "X-Signature", value: hex.EncodeToString(mac), want: signatureUnverifiable},
		"wrong secret":   {secret: "other", header: "X-Signature", value: hex.EncodeToString(mac), want: signatureInvalid},
		"unknown header": {secret: testSecret, header: "X-Other", value: hex.EncodeToString(mac), want: signatureMissing},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set(tc.header, tc.value)
			}
			assert.Equal(t, tc.want, verifySignature(tc.secret, header, body))
		})
	}
}
