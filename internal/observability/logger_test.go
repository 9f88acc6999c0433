package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/yuhao-tubi/multi-language-live-sub001/internal/config"
)

func testLoggingConfig(format string) config.LoggingConfig {
	return config.LoggingConfig{Level: "debug", Format: format}
}

func TestNewLoggerWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(testLoggingConfig("json"), &buf)

	logger.Info("hello", slog.String("key", "value"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want value", entry["key"])
	}
}

func TestNewLoggerWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(testLoggingConfig("text"), &buf)

	logger.Warn("plain")

	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text output missing message: %q", buf.String())
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record not filtered at warn level: %q", buf.String())
	}

	logger.Error("kept")
	if buf.Len() == 0 {
		t.Error("error record was filtered")
	}
}

func TestSecretFieldRedaction(t *testing.T) {
	type publishTarget struct {
		IngestURL string `json:"ingest_url"`
		StreamKey string `json:"stream_key" masq:"secret"`
	}

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(testLoggingConfig("json"), &buf)

	logger.Info("publisher starting",
		slog.Any("target", publishTarget{IngestURL: "rtmp://host/live", StreamKey: "sk-supersecret"}),
	)

	out := buf.String()
	if strings.Contains(out, "sk-supersecret") {
		t.Errorf("stream key leaked into log output: %q", out)
	}
	if !strings.Contains(out, "rtmp://host/live") {
		t.Errorf("non-secret field missing from log output: %q", out)
	}
}

func TestContextLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Error("LoggerFromContext did not return the stored logger")
	}

	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Error("LoggerFromContext without a stored logger should return the default")
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(testLoggingConfig("json"), &buf)

	WithStream(WithComponent(logger, "publisher"), "stream-1").Info("x")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "publisher" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["stream_id"] != "stream-1" {
		t.Errorf("stream_id = %v", entry["stream_id"])
	}
}
