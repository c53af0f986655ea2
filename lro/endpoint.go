package lro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Endpoint is the status endpoint of one family of operations. R is the Go type of the resource a successful
// operation resolves to.
//
// Poll must be safe to call repeatedly: reading the status of an operation has no side effects.
type Endpoint[R any] interface {
	Poll(ctx context.Context, ref Reference) (*Status[R], error)
}

// Codec is implemented by endpoints whose results can be recorded in a store.
type Codec[R any] interface {
	Encode(result R) (*anypb.Any, error)
	Decode(a *anypb.Any) (R, error)
}

// JSONCodec records JSON serialisable results, such as the REST resources of google.golang.org/api,
// as a google.protobuf.Struct. Endpoints typically embed it.
type JSONCodec[R any] struct{}

func (JSONCodec[R]) Encode(result R) (*anypb.Any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("no result to encode")
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("convert result to struct: %w", err)
	}
	return anypb.New(s)
}

func (JSONCodec[R]) Decode(a *anypb.Any) (R, error) {
	var result R
	s := &structpb.Struct{}
	if err := a.UnmarshalTo(s); err != nil {
		return result, fmt.Errorf("unmarshal recorded result: %w", err)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("decode recorded result: %w", err)
	}
	return result, nil
}
