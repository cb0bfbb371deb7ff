// Package retry implements the backoff envelope that drives the
// scheduler in a loop and the termination-signal handling around it
// (§4.2, §5, §8 scenario 6).
package retry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/broxus/nodekeeper/internal/ferr"
)

// BackoffConfig is the exponential backoff parameterization exposed by
// the CLI flags (§6).
type BackoffConfig struct {
	MinRetry   time.Duration
	MaxRetry   time.Duration
	Multiplier float64
}

func (c BackoffConfig) next(interval time.Duration) time.Duration {
	if interval < c.MinRetry {
		interval = c.MinRetry
	}
	grown := time.Duration(float64(interval) * c.Multiplier)
	if grown > c.MaxRetry {
		return c.MaxRetry
	}
	return grown
}

var logger = log.New("module", "retry")

// Run calls attempt in a loop until ctx is cancelled or attempt returns
// a fatal error. Retryable errors are logged and backed off per cfg's
// exponential formula; a successful attempt resets the interval to
// cfg.MinRetry (§5 Timeouts, §7).
func Run(ctx context.Context, attempt func(ctx context.Context) error, cfg BackoffConfig) error {
	interval := cfg.MinRetry
	for {
		err := attempt(ctx)
		if err == nil {
			interval = cfg.MinRetry
			continue
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}

		var fatal *ferr.Fatal
		if errors.As(err, &fatal) {
			logger.Error("fatal error, aborting", "err", err)
			return err
		}

		logger.Warn("retryable error, backing off", "err", err, "interval", interval)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
		interval = cfg.next(interval)
	}
}

// WatchTermination waits for SIGINT/SIGTERM, acquires guard before
// cancelling, then cancels cancel. This guarantees a termination signal
// never interrupts an in-flight on-chain call: the scheduler holds
// guard for the duration of every mutation, so the signal handler
// blocks on the same lock until that call completes (§4.2, §8 scenario 6).
func WatchTermination(ctx context.Context, cancel context.CancelFunc, guard *sync.Mutex) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received termination signal, waiting for in-flight election attempt", "signal", sig)
		guard.Lock()
		defer guard.Unlock()
		cancel()
	case <-ctx.Done():
	}
}

// ParseMultiplier validates a CLI-supplied backoff multiplier (§6).
func ParseMultiplier(raw float64) (float64, error) {
	if raw < 1 {
		return 0, fmt.Errorf("retry-interval-multiplier must be >= 1, got %v", raw)
	}
	return raw, nil
}
