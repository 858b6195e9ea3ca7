package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingCapturesStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	out := buf.String()
	if !strings.Contains(out, "status=201") {
		t.Errorf("log line missing status: %s", out)
	}
	if !strings.Contains(out, "size=7") {
		t.Errorf("log line missing size: %s", out)
	}
	if !strings.Contains(out, "method=POST") {
		t.Errorf("log line missing method: %s", out)
	}
}

func TestLoggingIncludesErrorCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetErrorCode(r.Context(), "not_found")
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	out := buf.String()
	if !strings.Contains(out, "error_code=not_found") {
		t.Errorf("log line missing error code: %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("expected WARN level for 4xx: %s", out)
	}
}

func TestLoggingSkipsErrorCodeOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetErrorCode(r.Context(), "should_not_appear")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if strings.Contains(buf.String(), "should_not_appear") {
		t.Errorf("error code logged on a 2xx response: %s", buf.String())
	}
}

func TestSetErrorCodeWithoutMiddlewareIsNoOp(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetErrorCode(req.Context(), "orphan")
	if got := GetErrorCode(req.Context()); got != "" {
		t.Errorf("expected empty error code, got %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	if NewLogger("production") == nil {
		t.Error("expected production logger")
	}
	if NewLogger("development") == nil {
		t.Error("expected development logger")
	}
}
