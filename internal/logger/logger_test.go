package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestFromWriterFields(t *testing.T) {
	var buf bytes.Buffer
	l := FromWriter(&buf, "debug").With("sessionID", "s-1")
	l.Err(errors.New("boom"), "投递失败", "status", 502)

	line := buf.String()
	assert.Equal(t, "error", gjson.Get(line, "level").String())
	assert.Equal(t, "s-1", gjson.Get(line, "sessionID").String())
	assert.Equal(t, int64(502), gjson.Get(line, "status").Int())
	assert.Equal(t, "boom", gjson.Get(line, "error").String())
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := FromWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("nothing", "k", "v")
	l.With("a", 1).Error("nothing")
}
