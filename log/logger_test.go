package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{" warning ", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"off", LogLevelNone, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLogger_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCustomLogger(&buf, LogLevelWarn)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "[ragflow] ")
	assert.Contains(t, out, "[WARN] warn 3")
	assert.Contains(t, out, "[ERROR] error 4")

	buf.Reset()
	logger.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, logger.GetLevel())
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")
}

func TestDefaultLogger_Package(t *testing.T) {
	prev := GetDefaultLogger()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	var buf bytes.Buffer
	SetDefaultLogger(NewCustomLogger(&buf, LogLevelInfo))
	Info("hello %s", "world")
	Debug("hidden")
	assert.Contains(t, buf.String(), "hello world")
	assert.NotContains(t, buf.String(), "hidden")

	SetDefaultLogger(nil)
	assert.IsType(t, &NoOpLogger{}, GetDefaultLogger())
	Error("goes nowhere")
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "NONE", LogLevelNone.String())
	assert.Equal(t, "UNKNOWN(42)", LogLevel(42).String())
}
