package signature

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		timestamp int64
		payload   string
	}{
		{
			name:      "simple payload",
			secret:    "whsec_test",
			timestamp: 1700000000,
			payload:   `{"id":"del_123","event_type":"order.created"}`,
		},
		{
			name:      "empty payload",
			secret:    "whsec_test",
			timestamp: 1700000000,
			payload:   "",
		},
		{
			name:      "binary-ish payload",
			secret:    "s",
			timestamp: 0,
			payload:   "\x00\x01\x02 payload with bytes",
		},
		{
			name:      "unicode payload",
			secret:    "another-secret-value",
			timestamp: 1893456000,
			payload:   `{"name":"héllo wörld"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign(tt.secret, tt.timestamp, []byte(tt.payload))
			if len(sig) != 64 {
				t.Errorf("Sign() returned %d hex chars, want 64", len(sig))
			}
			if !Verify(tt.secret, tt.timestamp, []byte(tt.payload), sig) {
				t.Errorf("Verify() = false for signature produced by Sign()")
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	secret := "whsec_test"
	ts := int64(1700000000)
	payload := []byte(`{"id":"del_123"}`)
	sig := Sign(secret, ts, payload)

	tests := []struct {
		name      string
		secret    string
		timestamp int64
		payload   []byte
		sig       string
	}{
		{"wrong secret", "whsec_other", ts, payload, sig},
		{"wrong timestamp", secret, ts + 1, payload, sig},
		{"wrong payload", secret, ts, []byte(`{"id":"del_456"}`), sig},
		{"truncated signature", secret, ts, payload, sig[:32]},
		{"empty signature", secret, ts, payload, ""},
		{"case-flipped signature", secret, ts, payload, strings.ToUpper(sig)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.secret, tt.timestamp, tt.payload, tt.sig) {
				t.Errorf("Verify() = true, want false")
			}
		})
	}
}

func TestSignIsDeterministic(t *testing.T) {
	a := Sign("secret", 12345, []byte("payload"))
	b := Sign("secret", 12345, []byte("payload"))
	if a != b {
		t.Errorf("Sign() not deterministic: %q != %q", a, b)
	}
}

func TestSignSeparatorMatters(t *testing.T) {
	// "1.23" and "12.3" as (timestamp, payload) splits must not collide.
	a := Sign("secret", 1, []byte("23"))
	b := Sign("secret", 12, []byte("3"))
	if a == b {
		t.Errorf("Sign() collided across timestamp/payload boundary")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	sig := Sign("secret", 1700000000, []byte("body"))
	h := Header(sig)
	if !strings.HasPrefix(h, "sha256=") {
		t.Errorf("Header() = %q, want sha256= prefix", h)
	}
	got, ok := ParseHeader(h)
	if !ok {
		t.Fatalf("ParseHeader(%q) not ok", h)
	}
	if got != sig {
		t.Errorf("ParseHeader() = %q, want %q", got, sig)
	}
}

func TestParseHeaderRejectsUnknownScheme(t *testing.T) {
	tests := []string{"", "md5=abc", "abc", "sha512=abc"}
	for _, v := range tests {
		if _, ok := ParseHeader(v); ok {
			t.Errorf("ParseHeader(%q) ok = true, want false", v)
		}
	}
}
