package utils

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer level.SetLevel(zapcore.DebugLevel)

	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	if GetLogger().Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at warn level")
	}
	if err := SetLevel("loud"); err == nil {
		t.Fatal("unknown level accepted")
	}
	if level.Level() != zapcore.WarnLevel {
		t.Fatalf("level changed to %s", level.Level())
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, http.NotFoundHandler(), 0)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
