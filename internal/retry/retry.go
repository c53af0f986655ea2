package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
)

// TransientCodes are the gRPC codes for which a status query is retried.
var TransientCodes = []codes.Code{
	codes.Unavailable,
	codes.DeadlineExceeded,
	codes.ResourceExhausted,
	codes.Aborted,
	codes.Internal,
}

// TransientHTTPCodes are the HTTP status codes for which a status query is retried.
var TransientHTTPCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Policy bounds the retries of a single call.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Backoff is the base of the pauses between attempts.
	Backoff gax.Backoff
	// Sleep pauses for d or until ctx is done, whichever comes first.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, is told about every failed attempt that will be retried.
	OnRetry func(attempt int, err error, pause time.Duration)
}

// Retry calls f until it succeeds, returns an error that is not transient, or the attempts are used up.
// It returns the result of the last call, the number of calls made and the last error.
//
// If the error returned inside Retry is a NonRetryableError, it will stop retrying and
// return the original error for later checking.
func Retry[R interface{}](ctx context.Context, p Policy, f func(ctx context.Context) (R, error)) (R, int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	retryer := Transient(p.Backoff)

	var (
		res R
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = f(ctx)
		if err == nil {
			return res, attempt, nil
		}
		var s NonRetryableError
		if errors.As(err, &s) {
			// Return the original error for later checking
			return res, attempt, s.error
		}
		if ctx.Err() != nil {
			return res, attempt, ctx.Err()
		}
		pause, ok := retryer.Retry(err)
		if !ok || attempt >= p.Attempts {
			return res, attempt, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, pause)
		}
		if serr := p.Sleep(ctx, pause); serr != nil {
			return res, attempt, serr
		}
	}
}

// Transient returns a gax.Retryer that accepts transient gRPC and HTTP errors as well as network errors.
// Each call returns a fresh retryer since a gax.Backoff keeps state between pauses.
func Transient(bo gax.Backoff) gax.Retryer {
	return &transient{
		grpc:    gax.OnCodes(TransientCodes, bo),
		http:    gax.OnHTTPCodes(bo, TransientHTTPCodes...),
		network: bo,
	}
}

type transient struct {
	grpc    gax.Retryer
	http    gax.Retryer
	network gax.Backoff
}

func (t *transient) Retry(err error) (time.Duration, bool) {
	if pause, ok := t.grpc.Retry(err); ok {
		return pause, true
	}
	if pause, ok := t.http.Retry(err); ok {
		return pause, true
	}
	if IsNetwork(err) {
		return t.network.Pause(), true
	}
	return 0, false
}

// IsNetwork reports whether err is a connection level failure, as opposed to an error reported by the service.
func IsNetwork(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NonRetryableError is a utility type to return an error that will not be retried by Retry
type NonRetryableError struct {
	error
}

// NewNonRetryableError is a utility function to return a NonRetryableError
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{err}
}
