package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	assert.True(t, IsNil(typed))
	assert.NotPanics(t, func() { OrNop(typed).Info("dropped %d", 1) })
	assert.False(t, IsNil(&recordingLogger{}))
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	var typed *recordingLogger

	logger := Multi(a, nil, Multi(b, typed))
	logger.Warn("node %s failed", "fetch")

	assert.Equal(t, []string{"WARN node fetch failed"}, a.lines)
	assert.Equal(t, []string{"WARN node fetch failed"}, b.lines)

	single := Multi(nil, a)
	assert.Same(t, a, single)
}

func TestFromSlogTagsComponentAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger := FromSlog(base, "scheduler")
	logger.Debug("hidden")
	logger.Info("graph %s started", "g1")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "graph g1 started")
	assert.Contains(t, out, "component=scheduler")
}

func TestFromSlogNilBase(t *testing.T) {
	assert.NotPanics(t, func() { FromSlog(nil, "x").Error("boom") })
	assert.NotPanics(t, func() { FromObservability(nil, "x").Error("boom") })
}
