package compute

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	computev1 "google.golang.org/api/compute/v1"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.alis.build/waiter/internal/retry"
	"go.alis.build/waiter/lro"
)

// statusDone is the status of a finished Compute Engine operation.
const statusDone = "DONE"

// Endpoint polls Compute Engine operations and resolves finished ones to the resource they target.
type Endpoint[R any] struct {
	lro.JSONCodec[R]
	service *computev1.Service
	fetch   func(ctx context.Context, target map[string]string) (R, error)
}

// InstanceEndpoint resolves operations on virtual machine instances.
type InstanceEndpoint = Endpoint[*computev1.Instance]

// VpnTunnelEndpoint resolves operations on VPN tunnels.
type VpnTunnelEndpoint = Endpoint[*computev1.VpnTunnel]

// NewInstanceEndpoint returns an endpoint for operations targeting instances.
func NewInstanceEndpoint(service *computev1.Service) *InstanceEndpoint {
	return &InstanceEndpoint{
		service: service,
		fetch: func(ctx context.Context, target map[string]string) (*computev1.Instance, error) {
			return service.Instances.Get(target["projects"], target["zones"], target["instances"]).Context(ctx).Do()
		},
	}
}

// NewVpnTunnelEndpoint returns an endpoint for operations targeting VPN tunnels.
func NewVpnTunnelEndpoint(service *computev1.Service) *VpnTunnelEndpoint {
	return &VpnTunnelEndpoint{
		service: service,
		fetch: func(ctx context.Context, target map[string]string) (*computev1.VpnTunnel, error) {
			return service.VpnTunnels.Get(target["projects"], target["regions"], target["vpnTunnels"]).Context(ctx).Do()
		},
	}
}

func (e *Endpoint[R]) Poll(ctx context.Context, ref lro.Reference) (*lro.Status[R], error) {
	op, err := getOperation(ctx, e.service, ref)
	if err != nil {
		return nil, err
	}
	st := &lro.Status[R]{
		Name:     op.Name,
		Done:     op.Status == statusDone,
		Progress: int(op.Progress),
		Detail:   op.StatusMessage,
	}
	if !st.Done {
		return st, nil
	}
	if op.Error != nil && len(op.Error.Errors) > 0 {
		st.Error = operationError(op)
		return st, nil
	}
	// a deleted resource cannot be read back
	if op.OperationType == "delete" || op.TargetLink == "" {
		return st, nil
	}
	target, err := parseLink(op.TargetLink)
	if err != nil {
		return nil, retry.NewNonRetryableError(&lro.ErrProtocol{Operation: ref.Key(), Reason: err.Error()})
	}
	res, err := e.fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("read target (%s): %w", op.TargetLink, err)
	}
	st.Result = res
	return st, nil
}

// getOperation reads the operation from the collection matching its scope.
func getOperation(ctx context.Context, service *computev1.Service, ref lro.Reference) (*computev1.Operation, error) {
	l := ref.Locator
	switch ref.Scope() {
	case lro.ScopeZonal:
		return service.ZoneOperations.Get(l.Project, l.Zone, ref.Name).Context(ctx).Do()
	case lro.ScopeRegional:
		return service.RegionOperations.Get(l.Project, l.Region, ref.Name).Context(ctx).Do()
	case lro.ScopeGlobal:
		return service.GlobalOperations.Get(l.Project, ref.Name).Context(ctx).Do()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "operation (%s) is not a Compute Engine operation", ref.Key())
	}
}

// operationError converts the error payload of a finished operation. The first error gives the message, the HTTP
// status of the operation gives the code.
func operationError(op *computev1.Operation) *statuspb.Status {
	msgs := make([]string, 0, len(op.Error.Errors))
	for _, e := range op.Error.Errors {
		if e == nil {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	return &statuspb.Status{
		Code:    int32(codeFromHTTP(int(op.HttpErrorStatusCode))),
		Message: strings.Join(msgs, "; "),
	}
}

func codeFromHTTP(httpCode int) codes.Code {
	switch httpCode {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusPreconditionFailed:
		return codes.FailedPrecondition
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case http.StatusInternalServerError:
		return codes.Internal
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Unknown
	}
}

// parseLink splits a resource URL such as
// https://compute.googleapis.com/compute/v1/projects/p/zones/z/instances/i into its collections:
// {"projects": "p", "zones": "z", "instances": "i"}.
func parseLink(link string) (map[string]string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link (%s): %w", link, err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	start := -1
	for i, s := range segments {
		if s == "projects" {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("link (%s) is not a resource path", link)
	}
	parts := map[string]string{}
	for i := start; i < len(segments); {
		// global resources carry no location value
		if segments[i] == "global" {
			i++
			continue
		}
		if i+1 >= len(segments) {
			return nil, fmt.Errorf("link (%s) is not a resource path", link)
		}
		parts[segments[i]] = segments[i+1]
		i += 2
	}
	return parts, nil
}

func lastSegment(link string) string {
	if link == "" {
		return ""
	}
	return link[strings.LastIndex(link, "/")+1:]
}
