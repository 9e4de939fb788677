package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"copyforge/internal/types"
)

func TestRecoverer_PanicReturnsJSON500(t *testing.T) {
	srv := newTestServer(t)
	handler := RequestIDMiddleware(srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something went wrong")
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-Id", `req-"1"`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("unexpected code %q", resp.Error.Code)
	}
	if resp.Error.RequestID != `req-"1"` {
		t.Errorf("request id not preserved: %q", resp.Error.RequestID)
	}
}

func TestRecoverer_NoPanic(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}

func TestRequestLogger_RedactsAndStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var ctxLogger *slog.Logger
	handler := RequestIDMiddleware(RequestLogger(logger, defaultRedactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = types.LoggerFromContext(r.Context(), nil)
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	req.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if ctxLogger == nil {
		t.Fatal("expected a request logger in the context")
	}
	out := buf.String()
	if strings.Contains(out, "secret-token") || strings.Contains(out, "v1=abc") {
		t.Errorf("credentials leaked into log: %s", out)
	}
	for _, want := range []string{`"status":201`, `"request_id":"req-42"`, "[REDACTED]"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	srv := newTestServer(t)
	metrics := &MockMetricsCollector{}
	srv.Metrics = metrics
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	srv.MountRoutes()

	for _, path := range []string{"/v1/things/1", "/v1/things/2", "/nope"} {
		srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := metrics.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", len(got))
	}
	for _, rr := range got[:2] {
		if rr.Route != "/v1/things/{id}" || rr.Status != "202" {
			t.Errorf("unexpected record %+v", rr)
		}
	}
	if got[2].Route != "unmatched" || got[2].Status != "404" {
		t.Errorf("unexpected record for unmatched route %+v", got[2])
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Environment = "prod"
	rec := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS in prod")
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
		wantCreds  bool
		preflight  bool
		wantStatus int
	}{
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com", true, false, 200},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", "", false, false, 200},
		{"wildcard", []string{"*"}, "https://any.example.com", "*", false, false, 200},
		{"preflight", []string{"*"}, "https://any.example.com", "*", false, true, 204},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/v1/generate", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rec := httptest.NewRecorder()
			NewCORSMiddleware(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("allow-credentials = %v, want %v", got, tt.wantCreds)
			}
		})
	}
}
