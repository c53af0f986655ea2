package lro

import (
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrOperationFailed is returned when the service reports that the operation finished with an error.
// The code and message are the ones reported by the service.
type ErrOperationFailed struct {
	Operation string
	Code      int32
	Message   string
}

func (e *ErrOperationFailed) Error() string {
	return fmt.Sprintf("operation (%s) failed: %d: %s", e.Operation, e.Code, e.Message)
}

// GRPCStatus allows status.Code and status.FromError to report the code of the failed operation.
func (e *ErrOperationFailed) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

// ErrWaitDeadlineExceeded is returned when the operation is still pending once the specified, or default, timeout
// has passed.
type ErrWaitDeadlineExceeded struct {
	Operation string
	Timeout   time.Duration
}

func (e *ErrWaitDeadlineExceeded) Error() string {
	return fmt.Sprintf("operation (%s) exceeded timeout deadline of %0.0f seconds", e.Operation, e.Timeout.Seconds())
}

// ErrPolling is returned when a status query could not be completed, either because the error was not transient
// or because all attempts were used.
type ErrPolling struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ErrPolling) Error() string {
	return fmt.Sprintf("poll operation (%s) after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *ErrPolling) Unwrap() error {
	return e.Err
}

// ErrCancelled is returned when the context is cancelled during a wait.
// The remote operation is not affected.
type ErrCancelled struct {
	Operation string
	Err       error
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("wait for operation (%s) cancelled: %v", e.Operation, e.Err)
}

func (e *ErrCancelled) Unwrap() error {
	return e.Err
}

// ErrProtocol is returned when the status endpoint reports something an operation cannot do,
// such as an error payload on a pending operation.
type ErrProtocol struct {
	Operation string
	Reason    string
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("operation (%s): %s", e.Operation, e.Reason)
}
