// Package signature computes and verifies the HMAC signatures attached to
// outbound webhook requests. The signed material is "{timestamp}.{payload}"
// so a captured request cannot be replayed outside the receiver's tolerance
// window.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HeaderPrefix is prepended to the hex digest in the signature header,
// e.g. "sha256=3f786850...".
const HeaderPrefix = "sha256="

// Sign returns the hex-encoded HMAC-SHA256 of "{timestamp}.{payload}"
// keyed with secret. Timestamp is Unix seconds.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(secret string, timestamp int64, payload []byte, sig string) bool {
	want := Sign(secret, timestamp, payload)
	return hmac.Equal([]byte(want), []byte(sig))
}

// Header formats a signature for transmission in an HTTP header.
func Header(sig string) string {
	return HeaderPrefix + sig
}

// ParseHeader strips the scheme prefix from a signature header value.
// Returns false if the value does not carry the expected scheme.
func ParseHeader(v string) (string, bool) {
	if !strings.HasPrefix(v, HeaderPrefix) {
		return "", false
	}
	return strings.TrimPrefix(v, HeaderPrefix), true
}
