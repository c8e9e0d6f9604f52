package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestAdapterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.AdapterLogger("index").Info().Msg("opened")
	line := lastLine(t, &buf)
	assert.Equal(t, "folio", line["service"])
	assert.Equal(t, "adapter", line["component"])
	assert.Equal(t, "index", line["adapter"])
	assert.Equal(t, "opened", line["message"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.LogPersistOperation("memory", "save", time.Millisecond, 1, nil)
	assert.Zero(t, buf.Len(), "debug is filtered")

	l.LogPersistOperation("memory", "save", time.Millisecond, 0, errors.New("boom"))
	line := lastLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "save", line["operation"])
}

func TestLogFlush(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	l.IngestLogger("book.yaml").LogFlush(3, 0, nil)
	line := lastLine(t, &buf)
	assert.Equal(t, "book.yaml", line["source"])
	assert.EqualValues(t, 3, line["applied"])
	assert.EqualValues(t, 0, line["pending"])
}
