package compute

import (
	"context"
	"fmt"

	"go.alis.build/alog"
	computev1 "google.golang.org/api/compute/v1"

	"go.alis.build/waiter/lro"
)

// OperationsHint tells the user how to check on an operation left running.
const OperationsHint = "Use [gcloud compute operations describe] command to check the status of this operation."

// SetMinCpuPlatform changes the minimum CPU platform of an instance. With async set, the pending operation is
// returned straight away. Otherwise it waits for the operation and returns the updated instance. An empty platform
// clears the setting.
func SetMinCpuPlatform(ctx context.Context, client *Client, ref InstanceRef, platform string, async bool) (lro.Outcome[*computev1.Instance], error) {
	var outcome lro.Outcome[*computev1.Instance]
	if err := ref.Validate(); err != nil {
		return outcome, err
	}

	req := &computev1.InstancesSetMinCpuPlatformRequest{MinCpuPlatform: platform}
	op, err := client.service.Instances.SetMinCpuPlatform(ref.Project, ref.Zone, ref.Name, req).Context(ctx).Do()
	if err != nil {
		return outcome, fmt.Errorf("set minimum CPU platform of instance (%s): %w", ref.Name, err)
	}
	opRef, err := OperationReference(op, ref.Project)
	if err != nil {
		return outcome, err
	}
	alog.Debugf(ctx, "set minimum CPU platform of instance (%s) to %s: operation (%s)", ref.Name, platform, opRef.Key())

	return client.instances.Resolve(ctx, opRef, lro.Request{
		Description: fmt.Sprintf("Changing minimum CPU platform of instance [%s]", ref.Name),
		Kind:        "gce instance",
		Name:        ref.Name,
		Hint:        OperationsHint,
		Async:       async,
	})
}

// DescribeVpnTunnel reads a VPN tunnel. Nothing is mutated, so there is no operation to wait for.
func DescribeVpnTunnel(ctx context.Context, client *Client, ref VpnTunnelRef) (*computev1.VpnTunnel, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	tunnel, err := client.service.VpnTunnels.Get(ref.Project, ref.Region, ref.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("describe vpn tunnel (%s): %w", ref.Name, err)
	}
	return tunnel, nil
}

// DescribeOperation reads the current state of an operation without waiting for it.
func DescribeOperation(ctx context.Context, client *Client, ref lro.Reference) (*computev1.Operation, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	op, err := getOperation(ctx, client.service, ref)
	if err != nil {
		return nil, fmt.Errorf("describe operation (%s): %w", ref.Key(), err)
	}
	return op, nil
}

// WaitVpnTunnel waits for an operation on a VPN tunnel, typically one returned by an earlier asynchronous call,
// and returns the tunnel.
func WaitVpnTunnel(ctx context.Context, client *Client, ref lro.Reference) (*computev1.VpnTunnel, error) {
	return client.vpnTunnels.Wait(ctx, ref, fmt.Sprintf("Waiting for [%s]", ref.Name))
}
