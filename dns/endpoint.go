package dns

import (
	"context"

	dnsv1 "google.golang.org/api/dns/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.alis.build/waiter/lro"
)

const statusDone = "done"

// ZoneEndpoint polls managed zone operations. A finished operation resolves to the zone as it was left by the
// operation.
type ZoneEndpoint struct {
	lro.JSONCodec[*dnsv1.ManagedZone]
	service *dnsv1.Service
}

func NewZoneEndpoint(service *dnsv1.Service) *ZoneEndpoint {
	return &ZoneEndpoint{service: service}
}

func (e *ZoneEndpoint) Poll(ctx context.Context, ref lro.Reference) (*lro.Status[*dnsv1.ManagedZone], error) {
	op, err := getOperation(ctx, e.service, ref)
	if err != nil {
		return nil, err
	}
	st := &lro.Status[*dnsv1.ManagedZone]{
		Name:   op.Id,
		Done:   op.Status == statusDone,
		Detail: op.Type,
	}
	if st.Done && op.ZoneContext != nil {
		st.Result = op.ZoneContext.NewValue
	}
	return st, nil
}

func getOperation(ctx context.Context, service *dnsv1.Service, ref lro.Reference) (*dnsv1.Operation, error) {
	if ref.Scope() != lro.ScopeManagedZone {
		return nil, status.Errorf(codes.InvalidArgument, "operation (%s) is not a managed zone operation", ref.Key())
	}
	l := ref.Locator
	return service.ManagedZoneOperations.Get(l.Project, l.ManagedZone, ref.Name).Context(ctx).Do()
}
