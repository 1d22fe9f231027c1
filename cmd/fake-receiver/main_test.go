package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/dmcallister/wharfhook/internal/config"
	"github.com/dmcallister/wharfhook/internal/signature"
)

func TestVerifyRequest(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now().Unix()
	sig := signature.Sign(secret, now, body)

	tests := []struct {
		name    string
		ts      string
		header  string
		leeway  time.Duration
		wantOK  bool
		wantMsg string
	}{
		{
			name:   "valid signature",
			ts:     strconv.FormatInt(now, 10),
			header: signature.Header(sig),
			leeway: 5 * time.Minute,
			wantOK: true,
		},
		{
			name:    "missing headers",
			ts:      "",
			header:  "",
			leeway:  5 * time.Minute,
			wantMsg: "missing headers",
		},
		{
			name:    "unparseable timestamp",
			ts:      "yesterday",
			header:  signature.Header(sig),
			leeway:  5 * time.Minute,
			wantMsg: "invalid timestamp",
		},
		{
			name:    "stale timestamp",
			ts:      strconv.FormatInt(now-3600, 10),
			header:  signature.Header(signature.Sign(secret, now-3600, body)),
			leeway:  5 * time.Minute,
			wantMsg: "timestamp outside leeway",
		},
		{
			name:    "header without prefix",
			ts:      strconv.FormatInt(now, 10),
			header:  sig,
			leeway:  5 * time.Minute,
			wantMsg: "malformed signature header",
		},
		{
			name:    "wrong secret",
			ts:      strconv.FormatInt(now, 10),
			header:  signature.Header(signature.Sign("whsec_other", now, body)),
			leeway:  5 * time.Minute,
			wantMsg: "sig mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := verifyRequest(secret, body, tt.ts, tt.header, tt.leeway)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v (msg=%q)", ok, tt.wantOK, msg)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestHandleHookFailFirstN(t *testing.T) {
	rc := &receiver{
		cfg:    config.FakeReceiver{FailFirstN: 2},
		sigHdr: "X-WharfHook-Signature",
		tsHdr:  "X-WharfHook-Timestamp",
	}

	for i, wantCode := range []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		rc.handleHook(w, req)
		if w.Code != wantCode {
			t.Errorf("request %d: status = %d, want %d", i+1, w.Code, wantCode)
		}
	}
}

func TestHandleHookVerifiesSignature(t *testing.T) {
	secret := "whsec_test"
	rc := &receiver{
		cfg:    config.FakeReceiver{EndpointSecret: secret, SigningLeewaySeconds: 300},
		sigHdr: "X-WharfHook-Signature",
		tsHdr:  "X-WharfHook-Timestamp",
	}

	body := []byte(`{"id":"evt_1"}`)
	ts := time.Now().Unix()

	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(rc.tsHdr, strconv.FormatInt(ts, 10))
	req.Header.Set(rc.sigHdr, signature.Header(signature.Sign(secret, ts, body)))
	w := httptest.NewRecorder()
	rc.handleHook(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("signed request: status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(rc.tsHdr, strconv.FormatInt(ts, 10))
	req.Header.Set(rc.sigHdr, signature.Header(signature.Sign("whsec_wrong", ts, body)))
	w = httptest.NewRecorder()
	rc.handleHook(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("badly signed request: status = %d, want 401", w.Code)
	}
}

func TestAbs64(t *testing.T) {
	tests := []struct{ in, want int64 }{
		{0, 0},
		{7, 7},
		{-7, 7},
	}
	for _, tt := range tests {
		if got := abs64(tt.in); got != tt.want {
			t.Errorf("abs64(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate long = %q", got)
	}
}
