// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/steady/internal/config"
)

// -- Test Helpers --

// syncBuffer is a goroutine-safe WriteSyncer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("console output is colorized", func(t *testing.T) {
		out := &syncBuffer{}
		logger, err := NewLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "steady",
			Colors:      config.ColorConfig{Info: "green"},
		}, out)
		require.NoError(t, err)

		logger.Named("navigator").Info("Clicking.", zap.String("selector", "#go"))

		line := out.String()
		assert.Contains(t, line, colorGreen+"INFO"+colorReset)
		assert.Contains(t, line, "steady.navigator.")
		assert.Contains(t, line, "Clicking.")
		assert.Contains(t, line, `"selector": "#go"`)
	})

	t.Run("default colors when none configured", func(t *testing.T) {
		out := &syncBuffer{}
		logger, err := NewLogger(config.LoggerConfig{Level: "warn", Format: "console"}, out)
		require.NoError(t, err)

		logger.Warn("careful")
		assert.Contains(t, out.String(), colorYellow+"WARN"+colorReset)
	})

	t.Run("json output", func(t *testing.T) {
		out := &syncBuffer{}
		logger, err := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		require.NoError(t, err)

		logger.Warn("Activity did not settle.", zap.Int("pending_requests", 2))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Activity did not settle.", entry["msg"])
		assert.Equal(t, float64(2), entry["pending_requests"])
	})

	t.Run("level filtering and bad level fallback", func(t *testing.T) {
		out := &syncBuffer{}
		logger, err := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, out)
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, out.String(), "hidden")
		assert.Contains(t, out.String(), "shown")
	})

	t.Run("rotated log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "steady.log")
		logger, err := NewLogger(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: path,
			MaxSize: 1,
		}, &syncBuffer{})
		require.NoError(t, err)

		logger.Error("This should go to the file.")
		require.NoError(t, logger.Sync())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.True(t, strings.HasPrefix(strings.TrimSpace(string(content)), "{"), "file output is always JSON")
	})
}

func TestInitialize(t *testing.T) {
	t.Run("only initializes once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, out)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()

		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})

	t.Run("global loggers are replaced", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, out)
		zap.L().Info("via global")
		assert.Contains(t, out.String(), "via global")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "fallback is a development logger")
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info"}, &syncBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
