package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := newZerolog(&buf, "node", false).With("peer", "CP-1")
	l.Warnf("rejecting %s", "x1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "node", line["component"])
	assert.Equal(t, "CP-1", line["peer"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "rejecting x1", line["message"])
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	assert.False(t, SetLevel(""))
	assert.False(t, SetLevel("loud"))
	require.True(t, SetLevel("WARN"))

	var buf bytes.Buffer
	l := newZerolog(&buf, "node", false)
	l.Infof("hidden")
	assert.Zero(t, buf.Len())
	l.Errorf("shown")
	assert.Contains(t, buf.String(), "shown")
}
