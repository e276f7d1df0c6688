package adapters

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dejobratic/fetchstate/internal/resources/ports"
)

// DedupTransport coalesces concurrent requests for the same key into a
// single upstream call. The shared call is detached from any one caller's
// cancellation and bounded by its own timeout; each caller still returns as
// soon as its own context ends.
type DedupTransport struct {
	next    ports.Transport
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
	shared  atomic.Int64
}

func NewDedupTransport(next ports.Transport, timeout time.Duration, logger *slog.Logger) *DedupTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupTransport{
		next:    next,
		timeout: timeout,
		logger:  logger,
	}
}

func (t *DedupTransport) Do(ctx context.Context, key string) (*ports.Response, error) {
	ch := t.group.DoChan(key, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		if t.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, t.timeout)
			defer cancel()
		}
		return t.next.Do(callCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			t.shared.Add(1)
			t.logger.DebugContext(ctx, "shared in-flight resource request", "key", key)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ports.Response), nil
	}
}

// Shared returns how many callers received a result produced for another caller.
func (t *DedupTransport) Shared() int64 {
	return t.shared.Load()
}
