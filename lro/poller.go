package lro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/google/uuid"
	"go.alis.build/alog"
	"golang.org/x/sync/errgroup"

	"go.alis.build/waiter/internal/retry"
	"go.alis.build/waiter/progress"
	"go.alis.build/waiter/store"
)

// Poller resolves operations of one Endpoint. A Poller only holds its configuration, so it can be shared by
// concurrent waits.
type Poller[R any] struct {
	endpoint Endpoint[R]
	cfg      *WaitConfig
}

/*
NewPoller creates a Poller for the given endpoint.

By default, Wait will wait for up to 30 minutes. It polls after 1 second, then doubles the pause up to 30 seconds.
A failing status query is attempted up to 4 times. These values can be configured by providing [WaitOption].

Example:

	poller, err := lro.NewPoller[*compute.Instance](endpoint, lro.WithTimeout(10*time.Minute))
*/
func NewPoller[R any](endpoint Endpoint[R], opts ...WaitOption) (*Poller[R], error) {
	if endpoint == nil {
		return nil, fmt.Errorf("endpoint cannot be nil")
	}
	cfg := defaultWaitConfig()
	for _, opt := range opts {
		// fail on error in option configuration
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return &Poller[R]{endpoint: endpoint, cfg: cfg}, nil
}

// ReturnPending hands back ref unchanged without any network call. It writes a notice naming the resource,
// followed by the hint telling the user how to check on the operation later.
func (p *Poller[R]) ReturnPending(ref Reference, kind, name, hint string) Reference {
	if err := progress.Notice(p.cfg.statusWriter, kind, name, hint); err != nil {
		alog.Warnf(context.Background(), "write notice for operation (%s): %v", ref.Key(), err)
	}
	return ref
}

// Resolve either returns ref as pending or waits for it, depending on req.Async.
func (p *Poller[R]) Resolve(ctx context.Context, ref Reference, req Request) (Outcome[R], error) {
	if err := ref.Validate(); err != nil {
		return Outcome[R]{Reference: ref}, err
	}
	if req.Async {
		return Outcome[R]{
			Pending:   true,
			Reference: p.ReturnPending(ref, req.Kind, req.Name, req.Hint),
		}, nil
	}
	res, err := p.Wait(ctx, ref, req.Description)
	if err != nil {
		return Outcome[R]{Reference: ref}, err
	}
	return Outcome[R]{Reference: ref, Resource: res}, nil
}

/*
Wait blocks until the operation is done, the configured timeout is reached, or ctx is cancelled.

While the operation is pending, Wait sleeps between polls. The pause starts at the initial delay and grows by the
multiplier up to the max delay. A terminal operation with an error yields an [ErrOperationFailed]. Otherwise Wait
returns the resource the endpoint resolved the operation to.

If the operation is not done when the timeout is reached, Wait will return an [ErrWaitDeadlineExceeded] error.

The description is written to the status writer, followed by progress on every poll.
*/
func (p *Poller[R]) Wait(ctx context.Context, ref Reference, description string) (R, error) {
	var zero R
	if err := ref.Validate(); err != nil {
		return zero, err
	}
	tracker := progress.NewTracker(p.cfg.statusWriter, description)
	res, err := p.wait(ctx, ref, tracker)
	if err != nil {
		tracker.Fail()
		return zero, err
	}
	tracker.Done()
	return res, nil
}

func (p *Poller[R]) wait(ctx context.Context, ref Reference, tracker *progress.Tracker) (R, error) {
	var zero R
	key := ref.Key()
	id := uuid.NewString()

	if res, ok, err := p.recorded(ctx, key); ok {
		alog.Debugf(ctx, "[%s] operation (%s) answered from store", id, key)
		return res, err
	}

	// All options have been configured, start the wait.
	startTime := p.cfg.clock.Now()
	deadline := startTime.Add(p.cfg.timeout)
	interval := p.cfg.first()
	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return zero, &ErrCancelled{Operation: key, Err: err}
		}
		st, err := p.query(ctx, ref)
		if err != nil {
			return zero, err
		}
		alog.Debugf(ctx, "[%s] poll %d of operation (%s): done=%t progress=%d detail=%q", id, polls, key, st.Done, st.Progress, st.Detail)

		if st.Name != "" && st.Name != ref.Name {
			return zero, &ErrProtocol{Operation: key, Reason: fmt.Sprintf("status reported for operation (%s)", st.Name)}
		}
		if st.Done {
			return p.finish(ctx, key, st, p.cfg.clock.Now().Sub(startTime))
		}
		if st.Error != nil {
			return zero, &ErrProtocol{Operation: key, Reason: "pending operation carries an error"}
		}
		tracker.Tick()

		// Check for timeouts.
		remaining := deadline.Sub(p.cfg.clock.Now())
		if remaining <= 0 {
			alog.Warnf(ctx, "[%s] operation (%s) still pending after %d poll(s)", id, key, polls)
			return zero, &ErrWaitDeadlineExceeded{Operation: key, Timeout: p.cfg.timeout}
		}
		// incur wait duration between polling
		if err := p.cfg.clock.Sleep(ctx, min(interval, remaining)); err != nil {
			return zero, &ErrCancelled{Operation: key, Err: err}
		}
		interval = p.cfg.next(interval)
	}
}

// query makes one status query, retrying transient failures.
func (p *Poller[R]) query(ctx context.Context, ref Reference) (*Status[R], error) {
	key := ref.Key()
	policy := retry.Policy{
		Attempts: p.cfg.queryAttempts,
		Backoff:  p.cfg.queryBackoffPolicy(),
		Sleep:    p.cfg.clock.Sleep,
		OnRetry: func(attempt int, err error, pause time.Duration) {
			alog.Warnf(ctx, "query operation (%s), attempt %d: %v (retrying in %s)", key, attempt, err, pause)
		},
	}
	st, attempts, err := retry.Retry(ctx, policy, func(ctx context.Context) (*Status[R], error) {
		return p.endpoint.Poll(ctx, ref)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ErrCancelled{Operation: key, Err: ctx.Err()}
		}
		var perr *ErrProtocol
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &ErrPolling{Operation: key, Attempts: attempts, Err: err}
	}
	if st == nil {
		return nil, &ErrProtocol{Operation: key, Reason: "empty status"}
	}
	return st, nil
}

// finish turns a terminal status into the result of the wait, and records it.
func (p *Poller[R]) finish(ctx context.Context, key string, st *Status[R], elapsed time.Duration) (R, error) {
	var zero R
	op := &longrunningpb.Operation{Name: key, Done: true}
	if st.Error != nil {
		op.Result = &longrunningpb.Operation_Error{Error: st.Error}
		p.record(ctx, op)
		alog.Infof(ctx, "operation (%s) failed after %s: %d: %s", key, elapsed, st.Error.GetCode(), st.Error.GetMessage())
		return zero, &ErrOperationFailed{Operation: key, Code: st.Error.GetCode(), Message: st.Error.GetMessage()}
	}

	if codec, ok := p.endpoint.(Codec[R]); ok && p.cfg.store != nil {
		if a, err := codec.Encode(st.Result); err != nil {
			alog.Debugf(ctx, "operation (%s) result not recorded: %v", key, err)
		} else {
			op.Result = &longrunningpb.Operation_Response{Response: a}
			p.record(ctx, op)
		}
	}
	alog.Infof(ctx, "operation (%s) done after %s", key, elapsed)
	return st.Result, nil
}

func (p *Poller[R]) record(ctx context.Context, op *longrunningpb.Operation) {
	if p.cfg.store == nil {
		return
	}
	if err := p.cfg.store.Put(ctx, op); err != nil {
		alog.Warnf(ctx, "record operation (%s): %v", op.GetName(), err)
	}
}

// recorded looks key up in the store. It reports ok when the recorded operation settles the wait, either with its
// result or with its error. Store failures are logged and the operation is polled instead.
func (p *Poller[R]) recorded(ctx context.Context, key string) (R, bool, error) {
	var zero R
	if p.cfg.store == nil {
		return zero, false, nil
	}
	op, err := p.cfg.store.Get(ctx, key)
	if err != nil {
		if !store.IsNotFound(err) {
			alog.Warnf(ctx, "read recorded operation (%s): %v", key, err)
		}
		return zero, false, nil
	}
	if !op.GetDone() {
		return zero, false, nil
	}
	if op.GetError() != nil {
		return zero, true, &ErrOperationFailed{Operation: key, Code: op.GetError().GetCode(), Message: op.GetError().GetMessage()}
	}
	codec, ok := p.endpoint.(Codec[R])
	if !ok || op.GetResponse() == nil {
		return zero, false, nil
	}
	res, err := codec.Decode(op.GetResponse())
	if err != nil {
		alog.Warnf(ctx, "decode recorded operation (%s): %v", key, err)
		return zero, false, nil
	}
	return res, true, nil
}

// WaitAll waits for all refs concurrently and returns their resources in the order of refs. The first failure
// cancels the remaining waits and is returned.
//
// The description is written once, with a single progress line shared by all waits.
func WaitAll[R any](ctx context.Context, p *Poller[R], refs []Reference, description string) ([]R, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	tracker := progress.NewTracker(p.cfg.statusWriter, description)
	results := make([]R, len(refs))

	// Wait for each operation and contribute its status to the group.
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			res, err := p.wait(gctx, ref, tracker)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracker.Fail()
		return nil, err
	}
	tracker.Done()
	return results, nil
}
