package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatalf("expected generated request id in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("response header %q != context id %q", got, seen)
	}
}

func TestWithRequestIDPropagatesIncoming(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "incoming-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "incoming-42" {
		t.Fatalf("context id = %q, want incoming-42", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "incoming-42" {
		t.Fatalf("response header = %q, want incoming-42", got)
	}
}
