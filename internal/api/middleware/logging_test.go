package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"ok request", "/chat/rooms", http.StatusOK, "info"},
		{"server error", "/chat/send", http.StatusInternalServerError, "error"},
		{"health probe", "/health", http.StatusOK, "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			line := buf.String()
			if !strings.Contains(line, `"level":"`+tt.level+`"`) {
				t.Fatalf("want level %q, got %s", tt.level, line)
			}
			if !strings.Contains(line, `"path":"`+tt.path+`"`) {
				t.Fatalf("missing path in %s", line)
			}
		})
	}
}
