package realtime

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, false).WithField("type", "realtime_dispatcher")

	logger.Debugf("hidden %d", 1)
	logger.Infof("connected to %s", "wss://api")
	logger.WithField("attempt", 2).Warnln("reconnecting")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO [type=realtime_dispatcher]: connected to wss://api\n")
	assert.Contains(t, out, "WARN [attempt=2, type=realtime_dispatcher]: reconnecting\n")
}

func TestWriterLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, true)

	logger.Debug("visible")
	logger.Error("failed")

	assert.Contains(t, buf.String(), "DEBUG: visible")
	assert.Contains(t, buf.String(), "ERROR: failed")
}

func TestZapLoggerWritesThroughConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(NewConsoleZapLogger(&buf, false)).WithField("chat", "c1")

	logger.Debugf("hidden")
	logger.Infof("joined %s", "c1")
	logger.Errorln("lost", "connection")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "joined c1")
	assert.Contains(t, out, `"chat": "c1"`)
	assert.Contains(t, out, "lost connection")
}

func TestNoopLoggerDiscards(t *testing.T) {
	logger := NewNoopLogger()
	assert.NotPanics(t, func() {
		logger.WithField("k", "v").Errorf("nothing %s", "happens")
	})
}
