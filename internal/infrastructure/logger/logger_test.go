package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func newBufferLogger(buf *bytes.Buffer) *zap.Logger {
	enc := createEncoder(&Config{Format: "json"})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config", cfg: nil},
		{name: "zero config", cfg: &Config{}},
		{name: "json to stderr", cfg: &Config{Level: "warn", Format: "json", Output: "stderr"}},
		{name: "debug console", cfg: &Config{Level: "debug", Format: "console", Output: "stdout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path, Service: "ledger-worker"})
	require.NoError(t, err)
	l.Info("hello")
	Sync(l)

	_, err = New(&Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestEnrich_AddsPipelineFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithSourceSystem(context.Background(), "OZON")
	ctx = WithSweep(ctx, "RECONCILE")
	ctx = WithBatchID(ctx, "b-1")

	Enrich(ctx, newBufferLogger(&buf)).Info("sweep started", zap.Int("lines", 3))

	entry := decodeLast(t, &buf)
	assert.Equal(t, "sweep started", entry["msg"])
	assert.Equal(t, "OZON", entry["source_system"])
	assert.Equal(t, "RECONCILE", entry["sweep"])
	assert.Equal(t, "b-1", entry["batch_id"])
	assert.EqualValues(t, 3, entry["lines"])
	assert.NotContains(t, entry, "trace_id")
}

func TestEnrich_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Enrich(context.Background(), nil).With(zap.String("k", "v")).Warn("dropped")
	})
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, GormLevel("silent"))
	assert.Equal(t, gormlogger.Error, GormLevel("ERROR"))
	assert.Equal(t, gormlogger.Info, GormLevel("debug"))
	assert.Equal(t, gormlogger.Warn, GormLevel(""))
}

func TestSQLLogger_TraceIncludesSweep(t *testing.T) {
	var buf bytes.Buffer
	gl := NewSQLLogger(newBufferLogger(&buf), gormlogger.Info, 0)
	ctx := WithSweep(context.Background(), "MATCH")

	gl.Trace(ctx, timeNowMinusMs(5), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	entry := decodeLast(t, &buf)
	assert.Equal(t, "SELECT 1", entry["sql"])
	assert.Equal(t, "MATCH", entry["sweep"])
}

func TestSQLLogger_IgnoresRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	gl := NewSQLLogger(newBufferLogger(&buf), gormlogger.Error, 0)

	gl.Trace(context.Background(), timeNowMinusMs(1), func() (string, int64) {
		return "SELECT * FROM ledger_entries", 0
	}, gormlogger.ErrRecordNotFound)

	assert.Zero(t, buf.Len())
}

func TestSQLLogger_SlowStatementWarns(t *testing.T) {
	var buf bytes.Buffer
	gl := NewSQLLogger(newBufferLogger(&buf), gormlogger.Warn, time.Millisecond)

	gl.Trace(context.Background(), timeNowMinusMs(50), func() (string, int64) {
		return "UPDATE ledger_entries SET normalized_status = 'DELIVERED'", 3
	}, nil)

	entry := decodeLast(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Slow statement", entry["msg"])
	assert.EqualValues(t, 3, entry["rows"])
}

func timeNowMinusMs(ms int) time.Time {
	return time.Now().Add(-time.Duration(ms) * time.Millisecond)
}
