package training

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressReporterLogsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewProgressReporter(logger, 2)

	r.Record(1, 0, 4.0, 3.0, 1.0, 0.25, 1e-4, 65536)
	assert.Empty(t, buf.String(), "mid-window steps must not log")

	// The logged values are the current step's, not a window average.
	r.Record(2, 1, 2.0, 1.0, 1.0, 0.75, 1e-4, 65536)
	out := buf.String()
	assert.Contains(t, out, "iter=2")
	assert.Contains(t, out, "epoch=1")
	assert.Contains(t, out, "loss=2")
	assert.Contains(t, out, "accu=0.75")
	assert.Contains(t, out, "lr=0.0001")
}

func TestProgressReporterSkipsIterationZero(t *testing.T) {
	var buf bytes.Buffer
	r := NewProgressReporter(slog.New(slog.NewTextHandler(&buf, nil)), 1)
	r.Record(0, 0, 1.0, 0.5, 0.5, 0, 1e-4, 1)
	assert.Empty(t, buf.String())
}
