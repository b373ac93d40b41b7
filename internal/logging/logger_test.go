package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", map[string]interface{}{"trial": 3})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["message"])
	assert.Equal(t, float64(3), lines[1]["trial"])
	assert.Contains(t, lines[1]["caller"], "logging/logger_test.go")
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(InfoLevel, &buf)
	child := parent.WithFields(map[string]interface{}{"study": "offset"})

	parent.Info("parent")
	child.WithError(assert.AnError).Info("child")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "study")
	assert.Equal(t, "offset", lines[1]["study"])
	assert.Equal(t, assert.AnError.Error(), lines[1]["error"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithFormat(InfoLevel, FormatText, &buf)
	logger.Info("trial finished", map[string]interface{}{"value": 0.5, "number": 2})

	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "trial finished")
	assert.Contains(t, line, "number=2")
	assert.Contains(t, line, "value=0.5")
}

func TestNewLoggerConfig(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Format: "console", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, logger.Level())
	assert.Equal(t, FormatText, logger.format)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())

	logger, err = NewLogger(&Config{Output: "discard"})
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())
}

func TestNewLoggerConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown level", Config{Level: "verbose"}},
		{"unknown format", Config{Format: "xml"}},
		{"output directory is a file", Config{Output: "logger_test.go/calibrate.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(&tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "calibrate.log")
	logger, err := NewLogger(&Config{Output: path})
	require.NoError(t, err)
	logger.Info("study loaded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "study loaded")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"", InfoLevel, false},
		{"DEBUG", DebugLevel, false},
		{"warning", WarnLevel, false},
		{"Error", ErrorLevel, false},
		{"bogus", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &CtxLogger{New(InfoLevel, &buf)}
	ctx := l.WithContext(context.Background())
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestZapLoggerForwardsTypedFields(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(DebugLevel, &buf)).Named("gp")

	zl.Debug("fitted",
		zap.Float64("noise", 1e-6),
		zap.Int("samples", 4),
		zap.Bool("ok", true),
		zap.Duration("took", 2*time.Second),
		zap.Error(assert.AnError),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "gp", lines[0]["logger"])
	assert.InDelta(t, 1e-6, lines[0]["noise"], 1e-12)
	assert.Equal(t, float64(4), lines[0]["samples"])
	assert.Equal(t, true, lines[0]["ok"])
	assert.Equal(t, "2s", lines[0]["took"])
	assert.Equal(t, assert.AnError.Error(), lines[0]["error"])
}

func TestZapLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(ErrorLevel, &buf))
	zl.Info("hidden")
	zl.With(zap.String("k", "v")).Error("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "v", lines[0]["k"])
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	var seen *CtxLogger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/studies/x", nil))

	require.NotNil(t, seen)
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, float64(404), lines[0]["status"])
	assert.Equal(t, "/api/v1/studies/x", lines[0]["path"])
}
