package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"lancamentos/internal/log"

	"github.com/google/uuid"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if log.FromContext(r.Context()).Component() != log.ComponentTrace {
			t.Errorf("request logger not installed")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extrato", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("request id %q is not a uuid", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("response header %q, want %q", rec.Header().Get(HeaderRequestID), seen)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status %d", rec.Code)
	}
	if got := m.GetMetrics().TotalRequests; got != 1 {
		t.Fatalf("TotalRequests = %d", got)
	}
}

func TestMiddlewareReusesIncomingID(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		header string
		reuse  bool
	}{
		{id, true},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		var seen string
		h := NewMiddleware(nil, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set(HeaderRequestID, tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if (seen == tt.header) != tt.reuse {
			t.Errorf("header %q: got id %q, reuse=%v", tt.header, seen, tt.reuse)
		}
	}
}

func TestGetRequestID(t *testing.T) {
	if GetRequestID(context.Background()) != "" {
		t.Fatal("expected empty id")
	}
	if GetRequestID(WithRequestID(context.Background(), "abc")) != "abc" {
		t.Fatal("expected stored id")
	}
}
