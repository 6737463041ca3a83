package daemon

import (
	"context"
	"testing"
	"time"
)

func TestWorkerGroup_RefusesAfterStop(t *testing.T) {
	var g WorkerGroup
	release := make(chan struct{})
	if !g.Go(func() { <-release }) {
		t.Fatal("Go refused before stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.StopAndWait(ctx); err == nil {
		t.Fatal("StopAndWait returned before the goroutine finished")
	}
	if g.Go(func() {}) {
		t.Fatal("Go accepted work after stop")
	}

	close(release)
	if err := g.StopAndWait(context.Background()); err != nil {
		t.Fatalf("StopAndWait: %v", err)
	}
}

func TestStopAwareContext_CancelledByStop(t *testing.T) {
	o := &Orchestrator{stopChan: make(chan struct{})}
	ctx, cancel := o.stopAwareContext(context.Background())
	defer cancel()

	o.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by Stop")
	}
}
