package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// rejection é o corpo JSON da resposta 429.
// rateLimitType repete operationClass para clientes antigos.
type rejection struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	OperationClass    string `json:"operationClass"`
	RateLimitType     string `json:"rateLimitType"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
	Timestamp         string `json:"timestamp"`
	RequestID         string `json:"requestId,omitempty"`
}

func writeRejection(w http.ResponseWriter, r *http.Request, status int, dec domain.Decision, now time.Time) {
	secs := retryAfterSeconds(dec.RetryAfter)

	h := w.Header()
	h.Set("Retry-After", formatInt64(secs))
	h.Set("X-RateLimit-Retry-After-Seconds", formatInt64(secs))
	h.Set("X-RateLimit-Remaining", formatUint(dec.Remaining))
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(rejection{
		Error:             "Too Many Requests",
		Message:           fmt.Sprintf("Rate limit exceeded for %s operations. Try again in %d seconds.", dec.OperationClass, secs),
		OperationClass:    dec.OperationClass,
		RateLimitType:     dec.OperationClass,
		RetryAfterSeconds: secs,
		Timestamp:         now.UTC().Format(time.RFC3339),
		RequestID:         RequestIDFrom(r.Context()),
	})
}
