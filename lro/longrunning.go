package lro

import (
	"context"
	"fmt"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/mennanov/fmutils"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"go.alis.build/waiter/internal/retry"
)

// OperationsService is an interface that wraps the GetOperation method. This allows us
// to use the GetOperation method of the service from which the operation originated,
// which should implement this interface if it produces longrunning operations.
// longrunningpb.OperationsClient satisfies it.
type OperationsService interface {
	GetOperation(ctx context.Context, in *longrunningpb.GetOperationRequest, opts ...grpc.CallOption) (*longrunningpb.Operation, error)
}

// EndpointOption is a functional option for NewLongrunningEndpoint.
type EndpointOption func(*endpointOptions)

type endpointOptions struct {
	readMask []string
	callOpts []grpc.CallOption
}

// WithReadMask keeps only the given field paths of the resolved resource.
func WithReadMask(paths ...string) EndpointOption {
	return func(o *endpointOptions) {
		o.readMask = paths
	}
}

// WithCallOptions passes grpc call options to every GetOperation call.
func WithCallOptions(opts ...grpc.CallOption) EndpointOption {
	return func(o *endpointOptions) {
		o.callOpts = opts
	}
}

// LongrunningEndpoint polls operations of a service implementing google.longrunning.Operations. The response of a
// successful operation is unpacked into R.
type LongrunningEndpoint[R proto.Message] struct {
	service  OperationsService
	readMask []string
	callOpts []grpc.CallOption
}

/*
NewLongrunningEndpoint creates an Endpoint for a google.longrunning service.

Example:

	var conn grpc.ClientConnInterface // create a connection to the relevant gRPC server
	endpoint := lro.NewLongrunningEndpoint[*pb.Book](longrunningpb.NewOperationsClient(conn))
	book, err := lro.NewPoller[*pb.Book](endpoint).Wait(ctx, lro.Reference{Name: op.GetName()}, "Creating book")
*/
func NewLongrunningEndpoint[R proto.Message](service OperationsService, opts ...EndpointOption) *LongrunningEndpoint[R] {
	options := &endpointOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &LongrunningEndpoint[R]{
		service:  service,
		readMask: options.readMask,
		callOpts: options.callOpts,
	}
}

func (e *LongrunningEndpoint[R]) Poll(ctx context.Context, ref Reference) (*Status[R], error) {
	op, err := e.service.GetOperation(ctx, &longrunningpb.GetOperationRequest{Name: ref.Name}, e.callOpts...)
	if err != nil {
		return nil, err
	}
	st := &Status[R]{
		Name:  op.GetName(),
		Done:  op.GetDone(),
		Error: op.GetError(),
	}
	if op.GetDone() && op.GetError() == nil {
		res, err := e.Decode(op.GetResponse())
		if err != nil {
			// A response of another type will not change on the next poll.
			return nil, retry.NewNonRetryableError(&ErrProtocol{Operation: ref.Key(), Reason: err.Error()})
		}
		st.Result = res
	}
	return st, nil
}

func (e *LongrunningEndpoint[R]) Encode(result R) (*anypb.Any, error) {
	return anypb.New(result)
}

// Decode unpacks a into a new R. A nil a yields an empty R, as for operations that respond with
// google.protobuf.Empty.
func (e *LongrunningEndpoint[R]) Decode(a *anypb.Any) (R, error) {
	var zero R
	res := zero.ProtoReflect().New().Interface().(R)
	if a == nil {
		return res, nil
	}
	if err := a.UnmarshalTo(res); err != nil {
		return zero, fmt.Errorf("unmarshal operation response: %w", err)
	}
	if len(e.readMask) > 0 {
		fmutils.Filter(res, e.readMask)
	}
	return res, nil
}

// UnmarshalOperation unmarshals the response and metadata of a done operation into the provided protocol buffer
// messages.
//
// Parameters:
//   - operation: The long-running operation, for example a record read back from a store.
//   - response: The protocol buffer message into which the response of the LRO should be unmarshalled. Can be nil.
//   - metadata: The protocol buffer message into which the metadata of the LRO should be unmarshalled. Can be nil.
//
// Returns:
//   - An error if the operation is not done, an *ErrOperationFailed if the operation resulted in an error, or an
//     error unmarshalling the response or metadata. Nil otherwise.
func UnmarshalOperation(operation *longrunningpb.Operation, response, metadata proto.Message) error {
	// Return an error if not done
	if !operation.GetDone() {
		return fmt.Errorf("operation (%s) is not done", operation.GetName())
	}

	// Also return an error if the result is an error
	if operation.GetError() != nil {
		return &ErrOperationFailed{
			Operation: operation.GetName(),
			Code:      operation.GetError().GetCode(),
			Message:   operation.GetError().GetMessage(),
		}
	}

	// Unmarshal the Response
	if response != nil && operation.GetResponse() != nil {
		if err := operation.GetResponse().UnmarshalTo(response); err != nil {
			return err
		}
	}

	// Unmarshal the Metadata
	if metadata != nil && operation.GetMetadata() != nil {
		if err := operation.GetMetadata().UnmarshalTo(metadata); err != nil {
			return err
		}
	}

	return nil
}
