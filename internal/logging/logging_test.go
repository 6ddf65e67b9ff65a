package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfwatch/internal/models"
)

func TestNewLoggerWithConfig_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "warn", Console: true, Out: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLoggerWithConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "etfwatch.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "debug", File: true, FilePath: path, MaxSize: 1})

	LogChange(WithRun(WithFund(logger, "00981A"), "run-1"), "major", models.ChangeRecord{
		Code:           "2330",
		Type:           models.ChangeIncreased,
		CountDeltaLots: 60,
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"fund":"00981A"`)
	assert.Contains(t, text, `"run_id":"run-1"`)
	assert.Contains(t, text, `"count_change_lots":60`)
}

func TestNewLoggerWithConfig_NoWriters(t *testing.T) {
	logger := NewLoggerWithConfig(LogConfig{Level: "info"})
	logger.Info().Msg("discarded")
}

func TestLogWrite(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "debug", Console: true, Out: &buf})

	LogWrite(WithOperation(logger, "report"), "/tmp/a.json", time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Write completed")

	buf.Reset()
	LogWrite(WithInstrument(logger, "2330"), "/tmp/a.json", 0, errors.New("disk full"))
	assert.Contains(t, buf.String(), "Write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "error", parseLevel("error").String())
	assert.Equal(t, "info", parseLevel("verbose").String())
}
