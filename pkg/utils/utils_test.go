package utils

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  LoggerConfig
	}{
		{"console stdout", LoggerConfig{Level: "debug", Format: "console"}},
		{"json stderr", LoggerConfig{Level: "WARN", OutputPath: "stderr", Format: "json"}},
		{"bad level falls back", LoggerConfig{Level: "loud"}},
		{"file output", LoggerConfig{Level: "info", OutputPath: filepath.Join(t.TempDir(), "logs", "server.log"), Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			require.NoError(t, err)
			logger.Info("Logger ready")
		})
	}
}

func TestNewLogger_LevelIsApplied(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "error"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestFieldsFromKeyValues(t *testing.T) {
	fields := FieldsFromKeyValues("instance_id", "i-1", 42, "dropped", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "instance_id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
	assert.Equal(t, zapcore.ErrorType, fields[1].Type)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "over budget\nsee note", SanitizeText("  over\x00 budget\nsee note\x07 "))
	assert.Equal(t, "", SanitizeText("\x1b"))
}

func TestValidateLength(t *testing.T) {
	assert.NoError(t, ValidateLength("name", "预算审批", 4))
	assert.Error(t, ValidateLength("name", "abcde", 4))
}

func TestEndSpan(t *testing.T) {
	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "op")
	EndSpan(span, errors.New("failed"))
	assert.False(t, span.IsRecording())
}
