// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/gatewatch/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("should build console logger with colors", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors: config.ColorConfig{ // -- testing our color configuration --
				Info: "green",
			},
		}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Named("walker").Info("This is a test message.")
		Sync(logger)

		output := buf.String()
		assert.Contains(t, output, "INFO", "Output should contain the log level")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorGreen, "Info level should be colorized green")
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.walker.", "component names get a dot suffix")
	})

	t.Run("should build json logger", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Warn("This is a JSON message.", zap.String("site", "a8m"))
		Sync(logger)

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "a8m", logEntry["site"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
		logger.Info("dropped")
		Sync(logger)
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&buf))
		logger.Debug("dropped")
		logger.Info("kept")
		Sync(logger)
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "gatewatch.log")
		cfg := config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logFile,
			MaxSize: 1, // 1 MB
		}
		var console bytes.Buffer
		logger := NewLogger(cfg, zapcore.AddSync(&console))
		logger.Error("This should go to the file.")
		Sync(logger)

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.Contains(t, console.String(), "This should go to the file.", "console core is teed")
	})

	t.Run("should return independent loggers", func(t *testing.T) {
		var a, b bytes.Buffer
		first := NewLogger(config.LoggerConfig{Level: "info", ServiceName: "First"}, zapcore.AddSync(&a))
		second := NewLogger(config.LoggerConfig{Level: "info", ServiceName: "Second"}, zapcore.AddSync(&b))

		first.Info("one")
		second.Info("two")
		Sync(first)
		Sync(second)

		assert.Contains(t, a.String(), "First")
		assert.NotContains(t, a.String(), "Second")
		assert.Contains(t, b.String(), "Second")
	})
}

func TestSyncNil(t *testing.T) {
	assert.NotPanics(t, func() { Sync(nil) })
}
