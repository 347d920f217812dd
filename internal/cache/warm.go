package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// warmer runs fire-and-forget cache writes. Each task is detached from the
// request context, bounded by timeout, and tracked so shutdown can drain it.
type warmer struct {
	name    string
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func (w *warmer) Go(ctx context.Context, op string, fn func(context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				writeFailures.WithLabelValues(w.name, op).Inc()
				w.log.Error().Str("op", op).Str("panic", fmt.Sprint(r)).Msg("cache warm panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
		defer cancel()
		err := fn(ctx)
		if errors.Is(err, ErrCacheUnavailable) {
			w.log.Debug().Str("op", op).Msg("cache warm skipped; backend unavailable")
			return
		}
		if err != nil {
			writeFailures.WithLabelValues(w.name, op).Inc()
			w.log.Warn().Err(err).Str("op", op).Msg("cache warm failed")
		}
	}()
}

// Wait blocks until pending warms finish or ctx is done.
func (w *warmer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
