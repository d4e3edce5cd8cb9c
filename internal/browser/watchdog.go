package browser

import (
	"context"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/logging"
	"go.uber.org/zap"
)

type crashRecoverer interface {
	Crashed(ctx context.Context) (bool, error)
	Reload(ctx context.Context) error
}

// watchCrashes checks r every interval and reloads it after a crash. A failed
// reload stops the loop for good. The returned channel closes when the loop
// exits.
func watchCrashes(ctx context.Context, r crashRecoverer, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			crashed, err := r.Crashed(ctx)
			if err != nil {
				logging.L.Debug("crash check failed", zap.Error(err))
				continue
			}
			if !crashed {
				continue
			}

			logging.L.Info("chat page crashed")
			if err := r.Reload(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.L.Error("chat page reload failed, crash checks disabled", zap.Error(err))
				return
			}
		}
	}()
	return done
}
