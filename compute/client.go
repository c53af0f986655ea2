package compute

import (
	"context"
	"fmt"

	computev1 "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"go.alis.build/waiter/internal/validate"
	"go.alis.build/waiter/lro"
)

// ClientOptions holds the configuration of a Client.
type ClientOptions struct {
	// APIOptions are passed to the Compute Engine API client, for example credentials or an endpoint override.
	APIOptions []option.ClientOption
	// WaitOptions configure every Poller created by the Client.
	WaitOptions []lro.WaitOption
}

// ClientOption is a functional option for the NewClient method.
type ClientOption func(*ClientOptions)

// WithAPIOptions adds options for the underlying Compute Engine API client.
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(o *ClientOptions) {
		o.APIOptions = append(o.APIOptions, opts...)
	}
}

// WithWaitOptions adds options used when waiting for operations.
func WithWaitOptions(opts ...lro.WaitOption) ClientOption {
	return func(o *ClientOptions) {
		o.WaitOptions = append(o.WaitOptions, opts...)
	}
}

// Client bundles the Compute Engine API service with the pollers of the resources it mutates.
type Client struct {
	service    *computev1.Service
	instances  *lro.Poller[*computev1.Instance]
	vpnTunnels *lro.Poller[*computev1.VpnTunnel]
}

// NewClient creates a Compute Engine API service and the pollers built on it.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	options := &ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	service, err := computev1.NewService(ctx, options.APIOptions...)
	if err != nil {
		return nil, fmt.Errorf("create compute service: %w", err)
	}
	instances, err := lro.NewPoller[*computev1.Instance](NewInstanceEndpoint(service), options.WaitOptions...)
	if err != nil {
		return nil, err
	}
	vpnTunnels, err := lro.NewPoller[*computev1.VpnTunnel](NewVpnTunnelEndpoint(service), options.WaitOptions...)
	if err != nil {
		return nil, err
	}
	return &Client{service: service, instances: instances, vpnTunnels: vpnTunnels}, nil
}

// Service returns the underlying Compute Engine API service.
func (c *Client) Service() *computev1.Service {
	return c.service
}

// InstanceRef identifies a virtual machine instance.
type InstanceRef struct {
	Project string
	Zone    string
	Name    string
}

func (r InstanceRef) Validate() error {
	if err := validate.Argument("project", r.Project, validate.ProjectRegex); err != nil {
		return err
	}
	if err := validate.Argument("zone", r.Zone, validate.ZoneRegex); err != nil {
		return err
	}
	return validate.Argument("instance", r.Name, validate.ResourceNameRegex)
}

// VpnTunnelRef identifies a VPN tunnel.
type VpnTunnelRef struct {
	Project string
	Region  string
	Name    string
}

func (r VpnTunnelRef) Validate() error {
	if err := validate.Argument("project", r.Project, validate.ProjectRegex); err != nil {
		return err
	}
	if err := validate.Argument("region", r.Region, validate.RegionRegex); err != nil {
		return err
	}
	return validate.Argument("vpnTunnel", r.Name, validate.ResourceNameRegex)
}

// OperationReference builds the reference of an operation returned by a Compute Engine mutation.
// The scope is taken from the zone or region URL of the operation; project is used when the self link does not
// name one.
func OperationReference(op *computev1.Operation, project string) (lro.Reference, error) {
	if op == nil {
		return lro.Reference{}, fmt.Errorf("no operation returned")
	}
	ref := lro.Reference{
		Name:     op.Name,
		SelfLink: op.SelfLink,
		Locator: lro.Locator{
			Project: project,
			Zone:    lastSegment(op.Zone),
			Region:  lastSegment(op.Region),
		},
	}
	if op.SelfLink != "" {
		if p, err := parseLink(op.SelfLink); err == nil && p["projects"] != "" {
			ref.Locator.Project = p["projects"]
		}
	}
	return ref, ref.Validate()
}
