package testenv

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ExampleNewTestLogHandler() {
	logger := slog.New(NewTestLogHandler())

	logger.Info("request sent", slog.String("operation", "ArtistQuery"))
	logger.Warn("stale page dropped", slog.Int("edges", 25))
	logger.Debug("store updated")

	// Output:
	// [0] INFO: request sent operation=ArtistQuery
	// [1] WARN: stale page dropped edges=25
	// [2] DEBUG: store updated
}

func ExampleNewTestLogHandler_groups() {
	logger := slog.New(NewTestLogHandler()).With("env", "test").WithGroup("req")

	logger.Info("done", slog.String("op", "Follow"), slog.Group("vars", slog.String("id", "a1")))

	// Output:
	// [0] INFO: done env=test, req.op=Follow, req.vars.id=a1
}

func TestTestLogHandlerOptions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTestLogHandler(
		WithWriter(&buf),
		WithIgnoreDebug(),
		WithIgnorePrefixes("websocket read failed"),
	))

	logger.Debug("hidden")
	logger.Error("websocket read failed", "error", "EOF")
	logger.Info("kept")

	assert.Equal(t, "[0] INFO: kept\n", buf.String())
}

func TestTestLogHandlerSharedIndex(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewTestLogHandler(WithWriter(&buf)))
	derived := base.With("component", "store")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); base.Info("a") }()
		go func() { defer wg.Done(); derived.Info("b") }()
	}
	wg.Wait()

	assert.Contains(t, buf.String(), "[19] ")
	assert.NotContains(t, buf.String(), "[20] ")
}
