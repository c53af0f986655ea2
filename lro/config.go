package lro

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/googleapis/gax-go/v2"

	"go.alis.build/waiter/store"
)

const (
	// DefaultInitialDelay is the pause after the first pending status.
	DefaultInitialDelay = time.Second
	// DefaultMaxDelay caps the pause between two polls.
	DefaultMaxDelay = 30 * time.Second
	// DefaultMultiplier grows the pause after every pending status.
	DefaultMultiplier = 2.0
	// DefaultTimeout is the overall deadline of a wait.
	DefaultTimeout = 30 * time.Minute
	// DefaultQueryAttempts is the number of calls made for a single status query when it fails transiently.
	DefaultQueryAttempts = 4
	// DefaultQueryBackoff is the initial pause between two attempts of a status query.
	DefaultQueryBackoff = 250 * time.Millisecond
	// DefaultQueryMaxBackoff caps the pause between two attempts of a status query.
	DefaultQueryMaxBackoff = 2 * time.Second
)

// Clock abstracts time for the wait loop.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d, returning early with ctx.Err() if ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitConfig is used to store the waiting configurations specified as functional WaitOption(s).
// It does not change once a Poller is created.
type WaitConfig struct {
	// Standard Wait Configurations
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	timeout      time.Duration // overall timeout

	// Status query retries
	queryAttempts   int
	queryBackoff    time.Duration
	queryMaxBackoff time.Duration

	statusWriter io.Writer
	store        store.Store
	clock        Clock
}

// WaitOption is a functional option for WaitConfig.
type WaitOption func(*WaitConfig) error

func defaultWaitConfig() *WaitConfig {
	return &WaitConfig{
		initialDelay:    DefaultInitialDelay,
		maxDelay:        DefaultMaxDelay,
		multiplier:      DefaultMultiplier,
		timeout:         DefaultTimeout,
		queryAttempts:   DefaultQueryAttempts,
		queryBackoff:    DefaultQueryBackoff,
		queryMaxBackoff: DefaultQueryMaxBackoff,
		statusWriter:    os.Stderr,
		clock:           systemClock{},
	}
}

// WithInitialDelay sets the pause after the first pending status.
func WithInitialDelay(d time.Duration) WaitOption {
	return func(w *WaitConfig) error {
		if d <= 0 {
			return fmt.Errorf("initial delay must be positive, got %s", d)
		}
		w.initialDelay = d
		return nil
	}
}

// WithMaxDelay caps the pause between polls.
func WithMaxDelay(d time.Duration) WaitOption {
	return func(w *WaitConfig) error {
		if d <= 0 {
			return fmt.Errorf("max delay must be positive, got %s", d)
		}
		w.maxDelay = d
		return nil
	}
}

// WithMultiplier sets the factor by which the pause grows. Values below 1 keep the pause constant.
func WithMultiplier(m float64) WaitOption {
	return func(w *WaitConfig) error {
		if m < 1 {
			m = 1
		}
		w.multiplier = m
		return nil
	}
}

// WithTimeout specified a constant duration after which the Wait method will return a ErrWaitDeadlineExceeded error.
func WithTimeout(timeout time.Duration) WaitOption {
	return func(w *WaitConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		w.timeout = timeout
		return nil
	}
}

// WithQueryRetries bounds the retries of a single status query that fails transiently.
// attempts counts all calls, including the first.
func WithQueryRetries(attempts int, backoff time.Duration) WaitOption {
	return func(w *WaitConfig) error {
		if attempts < 1 {
			return fmt.Errorf("query attempts must be at least 1, got %d", attempts)
		}
		w.queryAttempts = attempts
		if backoff > 0 {
			w.queryBackoff = backoff
			if w.queryMaxBackoff < backoff {
				w.queryMaxBackoff = backoff
			}
		}
		return nil
	}
}

// WithStatusWriter sets where progress and notices are written. Defaults to os.Stderr; nil disables them.
func WithStatusWriter(out io.Writer) WaitOption {
	return func(w *WaitConfig) error {
		w.statusWriter = out
		return nil
	}
}

// WithStore records terminal operations in s, and answers later waits on the same operation from it.
func WithStore(s store.Store) WaitOption {
	return func(w *WaitConfig) error {
		w.store = s
		return nil
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) WaitOption {
	return func(w *WaitConfig) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		w.clock = c
		return nil
	}
}

// next returns the pause that follows d. It never decreases and never exceeds the max delay.
func (w *WaitConfig) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * w.multiplier)
	if n < d {
		n = d
	}
	if n > w.maxDelay {
		n = w.maxDelay
	}
	return n
}

// first returns the initial pause, capped by the max delay.
func (w *WaitConfig) first() time.Duration {
	if w.initialDelay > w.maxDelay {
		return w.maxDelay
	}
	return w.initialDelay
}

func (w *WaitConfig) queryBackoffPolicy() gax.Backoff {
	return gax.Backoff{
		Initial:    w.queryBackoff,
		Max:        w.queryMaxBackoff,
		Multiplier: 2,
	}
}
