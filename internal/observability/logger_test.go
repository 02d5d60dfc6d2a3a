package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-audit/internal/config"
)

// syncBuffer is a goroutine-safe log sink.
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

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestNewLogger(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		out := &syncBuffer{}
		logger := NewLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "blue"},
		}, out)

		logger.Info("This is a test message.")
		logger.Warn("Careful.")

		output := out.String()
		assert.Contains(t, output, colorBlue+"INFO"+colorReset, "configured colors win")
		assert.Contains(t, output, colorYellow+"WARN"+colorReset, "unconfigured levels get the default color")
		assert.Contains(t, output, "TestService.")
		assert.Contains(t, output, "This is a test message.")
	})

	t.Run("json logger", func(t *testing.T) {
		out := &syncBuffer{}
		logger := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		logger.Warn("This is a JSON message.", zap.String("key", "value"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out.String()), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("level filtering", func(t *testing.T) {
		out := &syncBuffer{}
		logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, out)
		logger.Info("hidden")
		assert.Empty(t, out.String())

		out = &syncBuffer{}
		logger = NewLogger(config.LoggerConfig{Level: "nonsense", Format: "json"}, out)
		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, out.String(), "hidden")
		assert.Contains(t, out.String(), "shown", "an invalid level falls back to info")
	})

	t.Run("log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		logger := NewLogger(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1}, &syncBuffer{})
		logger.Error("This should go to the file.")
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"This should go to the file."`, "the file is always JSON")
	})
}

func TestInitialize(t *testing.T) {
	t.Cleanup(ResetForTest)

	t.Run("only the first call counts", func(t *testing.T) {
		ResetForTest()
		out := &syncBuffer{}
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, out)

		assert.Same(t, first, GetLogger())
		GetLogger().Info("test")
		Sync()
		assert.Contains(t, out.String(), "First")
		assert.NotContains(t, out.String(), "Second")
	})

	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.Nil(t, globalLogger.Load(), "the fallback is not stored")
	})
}
