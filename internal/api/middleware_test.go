package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestTracingMiddleware(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var seenTrace, seenRequest string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTrace = GetTraceID(r.Context())
		seenRequest = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("continues incoming traceparent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/profile", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if seenTrace != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("expected remote trace id, got %q", seenTrace)
		}
		if rr.Header().Get(TraceIDHeader) != seenTrace {
			t.Errorf("response header %q does not match context %q", rr.Header().Get(TraceIDHeader), seenTrace)
		}
	})

	t.Run("falls back to request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if seenRequest != "req-123" {
			t.Errorf("expected request id req-123, got %q", seenRequest)
		}
		if seenTrace != "req-123" {
			t.Errorf("expected trace id to fall back to request id, got %q", seenTrace)
		}
		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("request id not echoed")
		}
	})
}

func TestAdminMiddleware(t *testing.T) {
	var admin string
	h := TracingMiddleware(AdminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin = GetAdminID(r.Context())
		if GetTraceID(r.Context()) == "" {
			t.Error("admin middleware dropped the trace id")
		}
	})))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"too long", strings.Repeat("a", maxAdminIDLen+1), http.StatusUnauthorized},
		{"valid", "admin-7", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/tickets", nil)
			if tt.header != "" {
				req.Header.Set(AdminIDHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if tt.status == http.StatusOK && admin != tt.header {
				t.Errorf("expected admin %q, got %q", tt.header, admin)
			}
			if tt.status == http.StatusUnauthorized && !strings.Contains(rr.Body.String(), "UNAUTHORIZED") {
				t.Errorf("expected UNAUTHORIZED code, got %s", rr.Body.String())
			}
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/check", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "INTERNAL") {
		t.Errorf("expected INTERNAL code, got %s", rr.Body.String())
	}
}

func TestResponseWriterCountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)
	if wrap(rw) != rw {
		t.Fatal("wrap should not double-wrap")
	}

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("hello"))

	if rw.status != http.StatusTeapot {
		t.Errorf("first status should stick, got %d", rw.status)
	}
	if rw.bytes != 5 {
		t.Errorf("expected 5 bytes, got %d", rw.bytes)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap should return the underlying writer")
	}
}
