package dispatch

import "strings"

// Outcome is what an HTTP attempt means for the delivery's state machine.
type Outcome int

const (
	// OutcomeDelivered is any 2xx response.
	OutcomeDelivered Outcome = iota
	// OutcomeRetryable covers 429, 5xx, and network-level failures.
	OutcomeRetryable
	// OutcomePermanent covers the remaining 4xx responses; no retry.
	OutcomePermanent
)

// classify maps an attempt's transport error and status code to an outcome
// plus a reason label for metrics.
func classify(doErr error, status int) (Outcome, string) {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return OutcomeRetryable, "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return OutcomeRetryable, "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return OutcomeRetryable, "dns_error"
		}
		return OutcomeRetryable, "network"
	}
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered, "ok"
	case status == 429:
		return OutcomeRetryable, "http_429"
	case status >= 500:
		return OutcomeRetryable, "http_5xx"
	case status >= 400:
		return OutcomePermanent, "http_4xx"
	default:
		// 1xx/3xx: the receiver did not accept the event.
		return OutcomePermanent, "http_other"
	}
}
