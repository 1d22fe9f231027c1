// fake-receiver is a local webhook endpoint for exercising the dispatcher:
// it verifies signatures, can fail the first N requests to force retries,
// and can delay responses to simulate a slow receiver.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dmcallister/wharfhook/internal/config"
	"github.com/dmcallister/wharfhook/internal/signature"
)

type receiver struct {
	cfg      config.FakeReceiver
	sigHdr   string
	tsHdr    string
	reqCount atomic.Int64
}

func main() {
	cfg := config.FromEnv()
	rcv := &receiver{
		cfg:    cfg.FakeReceiver,
		sigHdr: cfg.Dispatcher.SignatureHeader,
		tsHdr:  cfg.Dispatcher.TimestampHeader,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond)
	}

	if rc.cfg.EndpointSecret != "" {
		leeway := time.Duration(rc.cfg.SigningLeewaySeconds) * time.Second
		if ok, msg := verifyRequest(rc.cfg.EndpointSecret, b, r.Header.Get(rc.tsHdr), r.Header.Get(rc.sigHdr), leeway); !ok {
			log.Printf("fake-receiver rejected signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests get a 500.
	if n <= int64(rc.cfg.FailFirstN) {
		log.Printf("FAILING (%d/%d) %s body=%s", n, rc.cfg.FailFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s body=%q", r.URL.Path, truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func verifyRequest(secret string, body []byte, ts, sigHeaderVal string, leeway time.Duration) (bool, string) {
	if ts == "" || sigHeaderVal == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	now := time.Now().Unix()
	if abs64(now-unix) > int64(leeway.Seconds()) {
		return false, "timestamp outside leeway"
	}
	sig, ok := signature.ParseHeader(sigHeaderVal)
	if !ok {
		return false, "malformed signature header"
	}
	if !signature.Verify(secret, unix, body, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
