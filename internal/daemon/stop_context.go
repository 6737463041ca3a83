package daemon

import (
	"context"
)

// stopAwareContext returns a context that is canceled when either the parent
// context is done or Stop is called.
//
// Callers MUST call the returned cancel func when the derived context is no
// longer needed; otherwise the stop-listener goroutine lives as long as the
// parent context.
func (o *Orchestrator) stopAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-o.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
