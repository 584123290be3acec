package loader

import (
	"context"
	"fmt"
	"fragloadd/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	attemptIdle int32 = iota
	attemptRunning
	attemptDone
)

// Attempt tracks the lifecycle of the single load a loader instance serves.
// It hands out the terminal outcome exactly once and reports when callbacks
// must no longer be delivered.
type Attempt struct {
	state  atomic.Int32
	mutex  sync.Mutex
	cancel context.CancelFunc
	timer  *time.Timer
}

// Start moves the attempt to running and returns the context the transfer
// must run under. When timeout is positive, onTimeout is called once the
// timeout elapses, unless the attempt finished or was aborted before.
// Start returns false if the attempt was aborted or already started.
func (a *Attempt) Start(timeout time.Duration, onTimeout func()) (context.Context, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.state.CompareAndSwap(attemptIdle, attemptRunning) {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if timeout > 0 {
		a.timer = time.AfterFunc(timeout, func() {
			if a.Finish() {
				onTimeout()
			}
		})
	}
	return ctx, true
}

// Running reports whether callbacks may still be delivered.
func (a *Attempt) Running() bool {
	return a.state.Load() == attemptRunning
}

// Finish claims the terminal outcome. Only the first caller gets true; the
// transfer context is cancelled in any case.
func (a *Attempt) Finish() bool {
	won := a.state.CompareAndSwap(attemptRunning, attemptDone)
	a.release()
	return won
}

// Abort ends the attempt without outcome. It is idempotent.
func (a *Attempt) Abort() {
	a.state.Store(attemptDone)
	a.release()
}

// Aborted reports whether the attempt ended, by abort or by outcome.
func (a *Attempt) Aborted() bool {
	return a.state.Load() == attemptDone
}

func (a *Attempt) release() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// RetryDelay returns the delay before retry number retry (starting at 0):
// RetryDelay doubled on each retry, capped by MaxRetryDelay when set.
func RetryDelay(cfg models.LoaderConfig, retry int) time.Duration {
	delay := cfg.RetryDelay
	for i := 0; i < retry && delay > 0; i++ {
		delay *= 2
		if cfg.MaxRetryDelay > 0 && delay >= cfg.MaxRetryDelay {
			break
		}
	}
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// Retry runs fetch until it succeeds, ctx is done, or cfg.MaxRetry retries
// were spent. onRetry is called before each retry. It returns the error of
// the last call.
func Retry(ctx context.Context, cfg models.LoaderConfig, fetch func() error, onRetry func(retry int, err error)) error {
	var err error
	for retry := 0; ; retry++ {
		err = fetch()
		if err == nil || ctx.Err() != nil || retry >= cfg.MaxRetry {
			return err
		}
		if onRetry != nil {
			onRetry(retry+1, err)
		}

		timer := time.NewTimer(RetryDelay(cfg, retry))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// DecodeOptions decodes raw loader options into out. Durations may be
// given as strings such as "30s".
func DecodeOptions(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid loader options: %w", err)
	}
	return nil
}
