package dns

import (
	"context"
	"fmt"

	dnsv1 "google.golang.org/api/dns/v1"
	"google.golang.org/api/option"

	"go.alis.build/waiter/internal/validate"
	"go.alis.build/waiter/lro"
)

// ClientOptions holds the configuration of a Client.
type ClientOptions struct {
	// APIOptions are passed to the Cloud DNS API client.
	APIOptions []option.ClientOption
	// WaitOptions configure the Poller of zone operations.
	WaitOptions []lro.WaitOption
}

// ClientOption is a functional option for the NewClient method.
type ClientOption func(*ClientOptions)

// WithAPIOptions adds options for the underlying Cloud DNS API client.
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(o *ClientOptions) {
		o.APIOptions = append(o.APIOptions, opts...)
	}
}

// WithWaitOptions adds options used when waiting for zone operations.
func WithWaitOptions(opts ...lro.WaitOption) ClientOption {
	return func(o *ClientOptions) {
		o.WaitOptions = append(o.WaitOptions, opts...)
	}
}

// Client bundles the Cloud DNS API service with the Poller of managed zone operations.
type Client struct {
	service *dnsv1.Service
	zones   *lro.Poller[*dnsv1.ManagedZone]
}

// NewClient creates a Cloud DNS API service and the Poller built on it.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	options := &ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	service, err := dnsv1.NewService(ctx, options.APIOptions...)
	if err != nil {
		return nil, fmt.Errorf("create dns service: %w", err)
	}
	zones, err := lro.NewPoller[*dnsv1.ManagedZone](NewZoneEndpoint(service), options.WaitOptions...)
	if err != nil {
		return nil, err
	}
	return &Client{service: service, zones: zones}, nil
}

// Service returns the underlying Cloud DNS API service.
func (c *Client) Service() *dnsv1.Service {
	return c.service
}

// ZoneRef identifies a managed zone.
type ZoneRef struct {
	Project string
	Name    string
}

func (r ZoneRef) Validate() error {
	if err := validate.Argument("project", r.Project, validate.ProjectRegex); err != nil {
		return err
	}
	return validate.Argument("managedZone", r.Name, validate.ManagedZoneRegex)
}

// Reference builds the reference of an operation on zone.
func Reference(zone ZoneRef, op *dnsv1.Operation) (lro.Reference, error) {
	if op == nil {
		return lro.Reference{}, fmt.Errorf("no operation returned")
	}
	ref := lro.Reference{
		Name:    op.Id,
		Locator: lro.Locator{Project: zone.Project, ManagedZone: zone.Name},
	}
	return ref, ref.Validate()
}
