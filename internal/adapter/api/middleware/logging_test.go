package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveLogged(t *testing.T, h http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/content/42", nil)
	rec := httptest.NewRecorder()
	Logging(logger)(h).ServeHTTP(rec, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unparseable log line %q: %v", buf.String(), err)
	}
	return line
}

func TestLoggingRecordsStatusAndSize(t *testing.T) {
	line := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	})

	if line["status"] != float64(http.StatusNotFound) {
		t.Errorf("status not captured: %v", line["status"])
	}
	if line["bytes"] != float64(len("not found")) {
		t.Errorf("response size not captured: %v", line["bytes"])
	}
	if line["path"] != "/v1/content/42" {
		t.Errorf("path wrong: %v", line["path"])
	}
	if line["level"] != "INFO" {
		t.Errorf("expected info level, got %v", line["level"])
	}
}

func TestLoggingImplicitOK(t *testing.T) {
	line := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if line["status"] != float64(http.StatusOK) {
		t.Errorf("implicit 200 not recorded: %v", line["status"])
	}
}

func TestLoggingWarnsOnServerError(t *testing.T) {
	line := serveLogged(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if line["level"] != "WARN" {
		t.Errorf("expected warn level for a 5xx, got %v", line["level"])
	}
}
