package lro

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.alis.build/waiter/store"
)

type book struct {
	Title string `json:"title"`
	Pages int    `json:"pages"`
}

// fakeClock advances instantly and records every pause.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type step struct {
	status *Status[*book]
	err    error
}

// fakeEndpoint replays scripted steps per operation name. The last step repeats.
type fakeEndpoint struct {
	JSONCodec[*book]

	mu     sync.Mutex
	steps  map[string][]step
	calls  map[string]int
	onPoll func(name string, call int)
}

func newFakeEndpoint(steps map[string][]step) *fakeEndpoint {
	return &fakeEndpoint{steps: steps, calls: map[string]int{}}
}

func (e *fakeEndpoint) Poll(_ context.Context, ref Reference) (*Status[*book], error) {
	e.mu.Lock()
	call := e.calls[ref.Name]
	e.calls[ref.Name]++
	steps := e.steps[ref.Name]
	onPoll := e.onPoll
	e.mu.Unlock()

	if onPoll != nil {
		onPoll(ref.Name, call)
	}
	if call >= len(steps) {
		call = len(steps) - 1
	}
	s := steps[call]
	if s.status == nil {
		return nil, s.err
	}
	st := *s.status
	return &st, s.err
}

func (e *fakeEndpoint) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

func pending(name string) step {
	return step{status: &Status[*book]{Name: name}}
}

func done(name string, b *book) step {
	return step{status: &Status[*book]{Name: name, Done: true, Result: b}}
}

func failed(name string, code codes.Code, msg string) step {
	return step{status: &Status[*book]{Name: name, Done: true, Error: &statuspb.Status{Code: int32(code), Message: msg}}}
}

func fails(code codes.Code) step {
	return step{err: status.Error(code, "backend says no")}
}

var testRef = Reference{
	Name:    "operation-1",
	Locator: Locator{Project: "my-project", Zone: "us-central1-a"},
}

func newTestPoller(t *testing.T, e Endpoint[*book], opts ...WaitOption) (*Poller[*book], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]WaitOption{WithClock(clock), WithStatusWriter(nil)}, opts...)
	p, err := NewPoller[*book](e, opts...)
	require.NoError(t, err)
	return p, clock
}

func TestPoller_Wait(t *testing.T) {
	result := &book{Title: "Dune", Pages: 412}
	name := testRef.Name

	tests := []struct {
		name       string
		steps      []step
		want       *book
		wantErr    error
		wantCalls  int
		wantSleeps []time.Duration
	}{
		{
			name:       "done after three polls",
			steps:      []step{pending(name), pending(name), done(name, result)},
			want:       result,
			wantCalls:  3,
			wantSleeps: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "done on first poll",
			steps:      []step{done(name, result)},
			want:       result,
			wantCalls:  1,
			wantSleeps: nil,
		},
		{
			name:      "operation failed",
			steps:     []step{pending(name), failed(name, codes.FailedPrecondition, "instance must be stopped")},
			wantErr:   &ErrOperationFailed{},
			wantCalls: 2,
		},
		{
			name:      "transient query failures are retried",
			steps:     []step{fails(codes.Unavailable), fails(codes.Unavailable), done(name, result)},
			want:      result,
			wantCalls: 3,
		},
		{
			name:      "transient query failures exhaust attempts",
			steps:     []step{fails(codes.Unavailable)},
			wantErr:   &ErrPolling{},
			wantCalls: DefaultQueryAttempts,
		},
		{
			name:      "non transient query failure",
			steps:     []step{fails(codes.PermissionDenied)},
			wantErr:   &ErrPolling{},
			wantCalls: 1,
		},
		{
			name: "pending operation with error payload",
			steps: []step{{status: &Status[*book]{
				Name:  name,
				Error: &statuspb.Status{Code: int32(codes.Internal), Message: "boom"},
			}}},
			wantErr:   &ErrProtocol{},
			wantCalls: 1,
		},
		{
			name:      "status of another operation",
			steps:     []step{pending("operation-2")},
			wantErr:   &ErrProtocol{},
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEndpoint(map[string][]step{name: tt.steps})
			p, clock := newTestPoller(t, e)

			got, err := p.Wait(context.Background(), testRef, "")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErr, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantCalls, e.Calls(name))
			if tt.wantSleeps != nil || tt.wantErr == nil && tt.wantCalls == 1 {
				assert.Equal(t, tt.wantSleeps, clock.Sleeps())
			}
		})
	}
}

func TestPoller_Wait_OperationFailedCarriesServiceError(t *testing.T) {
	name := testRef.Name
	e := newFakeEndpoint(map[string][]step{name: {failed(name, codes.FailedPrecondition, "instance must be stopped")}})
	p, _ := newTestPoller(t, e)

	_, err := p.Wait(context.Background(), testRef, "")

	var opErr *ErrOperationFailed
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, int32(codes.FailedPrecondition), opErr.Code)
	assert.Equal(t, "instance must be stopped", opErr.Message)
	assert.Equal(t, testRef.Key(), opErr.Operation)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestPoller_Wait_Timeout(t *testing.T) {
	name := testRef.Name
	e := newFakeEndpoint(map[string][]step{name: {pending(name)}})
	p, clock := newTestPoller(t, e, WithTimeout(5*time.Minute))

	_, err := p.Wait(context.Background(), testRef, "")

	var timeoutErr *ErrWaitDeadlineExceeded
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 5*time.Minute, timeoutErr.Timeout)

	// 1s, 2s, 4s, 8s, 16s, then 30s until the deadline, with a final shortened pause.
	calls := e.Calls(name)
	assert.Equal(t, 15, calls)
	assert.LessOrEqual(t, calls, int((5*time.Minute)/DefaultInitialDelay))

	var total time.Duration
	for _, s := range clock.Sleeps() {
		total += s
	}
	assert.Equal(t, 5*time.Minute, total)
}

func TestPoller_Wait_TimeoutWithLongDelay(t *testing.T) {
	name := testRef.Name
	e := newFakeEndpoint(map[string][]step{name: {pending(name)}})
	p, clock := newTestPoller(t, e, WithInitialDelay(30*time.Second), WithTimeout(5*time.Minute))

	_, err := p.Wait(context.Background(), testRef, "")

	var timeoutErr *ErrWaitDeadlineExceeded
	require.ErrorAs(t, err, &timeoutErr)

	// polls at 0s, 30s, ..., 300s
	assert.Equal(t, 11, e.Calls(name))
	sleeps := clock.Sleeps()
	assert.Len(t, sleeps, 10)
	for _, s := range sleeps {
		assert.Equal(t, 30*time.Second, s)
	}
}

func TestPoller_Wait_BackoffIsBounded(t *testing.T) {
	name := testRef.Name
	steps := []step{}
	for i := 0; i < 12; i++ {
		steps = append(steps, pending(name))
	}
	steps = append(steps, done(name, &book{Title: "Emma"}))
	e := newFakeEndpoint(map[string][]step{name: steps})
	p, clock := newTestPoller(t, e, WithInitialDelay(500*time.Millisecond), WithMaxDelay(8*time.Second), WithMultiplier(1.5))

	_, err := p.Wait(context.Background(), testRef, "")
	require.NoError(t, err)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 12)
	for i, s := range sleeps {
		assert.LessOrEqual(t, s, 8*time.Second)
		if i > 0 {
			assert.GreaterOrEqual(t, s, sleeps[i-1])
		}
	}
	assert.Equal(t, 8*time.Second, sleeps[len(sleeps)-1])
}

func TestPoller_Wait_Cancelled(t *testing.T) {
	name := testRef.Name
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newFakeEndpoint(map[string][]step{name: {pending(name)}})
	e.onPoll = func(_ string, call int) {
		if call == 1 {
			cancel()
		}
	}
	p, _ := newTestPoller(t, e)

	_, err := p.Wait(ctx, testRef, "")

	var cancelled *ErrCancelled
	require.ErrorAs(t, err, &cancelled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, e.Calls(name))
}

func TestPoller_Wait_InvalidReference(t *testing.T) {
	e := newFakeEndpoint(nil)
	p, _ := newTestPoller(t, e)

	_, err := p.Wait(context.Background(), Reference{Name: "bad name!"}, "")

	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 0, e.Calls("bad name!"))
}

func TestPoller_Wait_Progress(t *testing.T) {
	name := testRef.Name
	e := newFakeEndpoint(map[string][]step{name: {pending(name), pending(name), done(name, &book{})}})
	out := &bytes.Buffer{}
	p, _ := newTestPoller(t, e, WithStatusWriter(out))

	_, err := p.Wait(context.Background(), testRef, "Changing minimum CPU platform of instance [vm-1]")
	require.NoError(t, err)

	assert.Equal(t, "Changing minimum CPU platform of instance [vm-1].....done.\n", out.String())
}

func TestPoller_ReturnPending(t *testing.T) {
	e := newFakeEndpoint(nil)
	out := &bytes.Buffer{}
	p, _ := newTestPoller(t, e, WithStatusWriter(out))

	got := p.ReturnPending(testRef, "gce instance", "vm-1",
		"Use [gcloud compute operations describe] command to check the status of this operation.")

	assert.Equal(t, testRef, got)
	assert.Equal(t, 0, e.Calls(testRef.Name))
	assert.Equal(t, "Updated [gce instance vm-1].\n"+
		"Use [gcloud compute operations describe] command to check the status of this operation.\n", out.String())
}

func TestPoller_Resolve(t *testing.T) {
	name := testRef.Name
	result := &book{Title: "Ulysses"}

	tests := []struct {
		name      string
		req       Request
		want      Outcome[*book]
		wantCalls int
		wantOut   string
	}{
		{
			name:      "async",
			req:       Request{Kind: "gce instance", Name: "vm-1", Async: true},
			want:      Outcome[*book]{Pending: true, Reference: testRef},
			wantCalls: 0,
			wantOut:   "Updated [gce instance vm-1].\n",
		},
		{
			name:      "sync",
			req:       Request{Description: "Waiting", Kind: "gce instance", Name: "vm-1"},
			want:      Outcome[*book]{Reference: testRef, Resource: result},
			wantCalls: 2,
			wantOut:   "Waiting....done.\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEndpoint(map[string][]step{name: {pending(name), done(name, result)}})
			out := &bytes.Buffer{}
			p, _ := newTestPoller(t, e, WithStatusWriter(out))

			got, err := p.Resolve(context.Background(), testRef, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, e.Calls(name))
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestPoller_Wait_Store(t *testing.T) {
	ctx := context.Background()
	name := testRef.Name
	other := Reference{Name: "operation-2", Locator: testRef.Locator}

	e := newFakeEndpoint(map[string][]step{
		name:       {pending(name), done(name, &book{Title: "Middlemarch", Pages: 880})},
		other.Name: {failed(other.Name, codes.ResourceExhausted, "quota exceeded")},
	})
	s := store.NewMemoryStore()
	p, _ := newTestPoller(t, e, WithStore(s))

	first, err := p.Wait(ctx, testRef, "")
	require.NoError(t, err)
	second, err := p.Wait(ctx, testRef, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, e.Calls(name))

	_, err = p.Wait(ctx, other, "")
	assert.IsType(t, &ErrOperationFailed{}, err)
	_, err = p.Wait(ctx, other, "")
	assert.IsType(t, &ErrOperationFailed{}, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1, e.Calls(other.Name))

	op, err := s.Get(ctx, testRef.Key())
	require.NoError(t, err)
	assert.True(t, op.GetDone())
}

func TestWaitAll(t *testing.T) {
	refs := []Reference{
		{Name: "operation-1", Locator: Locator{Project: "my-project", Zone: "us-central1-a"}},
		{Name: "operation-2", Locator: Locator{Project: "my-project", Zone: "us-central1-b"}},
		{Name: "operation-3", Locator: Locator{Project: "my-project", Region: "us-central1"}},
	}

	t.Run("all done", func(t *testing.T) {
		e := newFakeEndpoint(map[string][]step{
			"operation-1": {pending("operation-1"), done("operation-1", &book{Title: "a"})},
			"operation-2": {done("operation-2", &book{Title: "b"})},
			"operation-3": {pending("operation-3"), pending("operation-3"), done("operation-3", &book{Title: "c"})},
		})
		out := &bytes.Buffer{}
		p, _ := newTestPoller(t, e, WithStatusWriter(out))

		got, err := WaitAll(context.Background(), p, refs, "Waiting for operations")
		require.NoError(t, err)
		assert.Equal(t, []*book{{Title: "a"}, {Title: "b"}, {Title: "c"}}, got)
		assert.Contains(t, out.String(), "Waiting for operations...")
		assert.Contains(t, out.String(), "done.\n")
	})

	t.Run("one failed", func(t *testing.T) {
		e := newFakeEndpoint(map[string][]step{
			"operation-1": {done("operation-1", &book{Title: "a"})},
			"operation-2": {failed("operation-2", codes.NotFound, "gone")},
			"operation-3": {done("operation-3", &book{Title: "c"})},
		})
		p, _ := newTestPoller(t, e)

		got, err := WaitAll(context.Background(), p, refs, "")
		assert.Nil(t, got)
		var opErr *ErrOperationFailed
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "gone", opErr.Message)
	})
}

func TestNewPoller(t *testing.T) {
	tests := []struct {
		name    string
		opts    []WaitOption
		wantErr bool
	}{
		{name: "defaults"},
		{name: "negative timeout", opts: []WaitOption{WithTimeout(-time.Second)}, wantErr: true},
		{name: "zero initial delay", opts: []WaitOption{WithInitialDelay(0)}, wantErr: true},
		{name: "zero query attempts", opts: []WaitOption{WithQueryRetries(0, 0)}, wantErr: true},
		{name: "nil clock", opts: []WaitOption{WithClock(nil)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoller[*book](newFakeEndpoint(nil), tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPoller() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
