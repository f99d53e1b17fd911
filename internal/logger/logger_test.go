package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func TestFromConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")

	tests := []struct {
		level, format string
		wantLevel     slog.Level
		wantFormat    string
	}{
		{"debug", "", slog.LevelDebug, "text"},
		{"INFO", "json", slog.LevelInfo, "json"},
		{"warn", "text", slog.LevelWarn, "text"},
		{"error", "", slog.LevelError, "text"},
		{"bogus", "", slog.LevelDebug, "text"},
	}

	for _, tt := range tests {
		cfg := FromConfig(tt.level, tt.format)
		if cfg.Level != tt.wantLevel {
			t.Errorf("FromConfig(%q).Level = %v, want %v", tt.level, cfg.Level, tt.wantLevel)
		}
		if cfg.Format != tt.wantFormat {
			t.Errorf("FromConfig(%q, %q).Format = %q, want %q", tt.level, tt.format, cfg.Format, tt.wantFormat)
		}
	}
}

func TestFromConfig_ProductionForcesJSON(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	if got := FromConfig("info", "text").Format; got != "json" {
		t.Errorf("Format = %q, want json", got)
	}
}

func TestWithContext_AddsPurchaseFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithProductID(ctx, "sub.basic")
	ctx = WithTransactionID(ctx, "tx-42")

	log.LogError(ctx, errors.New("boom"), "verification failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}

	want := map[string]string{
		"request_id":     "req-1",
		"product_id":     "sub.basic",
		"transaction_id": "tx-42",
		"error":          "boom",
		"msg":            "verification failed",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %q", k, entry[k], v)
		}
	}
}

func TestLogOperation_ReturnsError(t *testing.T) {
	log := Nop()
	want := errors.New("failed")

	err := log.LogOperation(context.Background(), "restore", func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("LogOperation() error = %v, want %v", err, want)
	}
}
