package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"quarry/internal/middleware"
)

func TestContextHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, nil)
	h := NewContextHandler(jsonHandler)
	logger := slog.New(h)

	ctx := context.Background()
	ctx = middleware.WithCorrelationID(ctx, "test-correlation-id")

	logger.InfoContext(ctx, "test message")

	var logMap map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logMap); err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}

	if logMap["correlation_id"] != "test-correlation-id" {
		t.Errorf("expected correlation_id 'test-correlation-id', got %v", logMap["correlation_id"])
	}
}

func TestContextHandler_NoCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("plain message")

	var logMap map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logMap); err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}
	if _, ok := logMap["correlation_id"]; ok {
		t.Error("correlation_id should be absent without context value")
	}
}
