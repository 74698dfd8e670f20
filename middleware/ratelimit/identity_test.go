package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultIdentityFunc_PrefersContextSubject(t *testing.T) {
	fn := DefaultIdentityFunc("X-User")

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User", "from-header")
	r = r.WithContext(WithSubject(r.Context(), "from-ctx"))

	if got := fn(r).Subject; got != "from-ctx" {
		t.Fatalf("expected context subject, got %q", got)
	}
}

func TestDefaultIdentityFunc_SubjectHeader(t *testing.T) {
	fn := DefaultIdentityFunc("X-User")

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User", " client-123 ")

	if got := fn(r).Subject; got != "client-123" {
		t.Fatalf("expected header subject, got %q", got)
	}
}

func TestDefaultIdentityFunc_HeaderIgnoredWhenNotConfigured(t *testing.T) {
	fn := DefaultIdentityFunc("")

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-User", "spoofed")
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	id := fn(r)
	if !id.Anonymous() {
		t.Fatalf("expected anonymous identity, got %q", id.Subject)
	}
	if id.RemoteAddr != "10.0.0.9:5555" || id.ForwardedFor != "1.2.3.4, 5.6.7.8" {
		t.Fatalf("unexpected addresses %+v", id)
	}
}

func TestRequestID_KeepsOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "abc" || w.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("expected incoming id kept, got ctx=%q header=%q", seen, w.Header().Get(RequestIDHeader))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if len(seen) != 36 || w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{2 * time.Second, 2},
		{2*time.Second + time.Nanosecond, 3},
	}
	for _, c := range cases {
		if got := retryAfterSeconds(c.in); got != c.want {
			t.Fatalf("%s: expected %d, got %d", c.in, c.want, got)
		}
	}
}
