package dns

import (
	"context"
	"fmt"
	"maps"

	"go.alis.build/alog"
	dnsv1 "google.golang.org/api/dns/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.alis.build/waiter/internal/validate"
	"go.alis.build/waiter/lro"
)

// OperationsHint tells the user how to check on an operation left running.
const OperationsHint = "Use [gcloud dns operations describe] command to check the status of this operation."

// ZoneUpdate lists the changes to apply to a managed zone. Unset fields are left unchanged.
type ZoneUpdate struct {
	// Description replaces the zone description. An empty string clears it.
	Description *string
	// DnssecState is one of "on", "off" or "transfer".
	DnssecState string
	// Label changes are applied in order: clear, remove, then update.
	ClearLabels  bool
	RemoveLabels []string
	UpdateLabels map[string]string
}

func (u ZoneUpdate) labelsChanged() bool {
	return u.ClearLabels || len(u.RemoveLabels) > 0 || len(u.UpdateLabels) > 0
}

func (u ZoneUpdate) Validate() error {
	switch u.DnssecState {
	case "", "on", "off", "transfer":
	default:
		return status.Errorf(codes.InvalidArgument, "dnssec state (%s) must be one of on, off or transfer", u.DnssecState)
	}
	for k, v := range u.UpdateLabels {
		if err := validate.Argument("label key", k, validate.LabelKeyRegex); err != nil {
			return err
		}
		if err := validate.Argument("label value", v, validate.LabelValueRegex); err != nil {
			return err
		}
	}
	return nil
}

// applyLabels returns the labels resulting from u, and whether they differ from current.
func applyLabels(current map[string]string, u ZoneUpdate) (map[string]string, bool) {
	labels := map[string]string{}
	if !u.ClearLabels {
		maps.Copy(labels, current)
	}
	for _, k := range u.RemoveLabels {
		delete(labels, k)
	}
	maps.Copy(labels, u.UpdateLabels)
	return labels, !maps.Equal(labels, current)
}

/*
UpdateManagedZone patches a managed zone with the changes in u.

The current labels are only read when u changes labels, and are only sent when they actually change. With async set
the pending operation is returned straight away. Otherwise it waits for the operation and returns the updated zone.
*/
func UpdateManagedZone(ctx context.Context, client *Client, ref ZoneRef, u ZoneUpdate, async bool) (lro.Outcome[*dnsv1.ManagedZone], error) {
	var outcome lro.Outcome[*dnsv1.ManagedZone]
	if err := ref.Validate(); err != nil {
		return outcome, err
	}
	if err := u.Validate(); err != nil {
		return outcome, err
	}

	patch := &dnsv1.ManagedZone{}
	if u.Description != nil {
		patch.Description = *u.Description
		patch.ForceSendFields = append(patch.ForceSendFields, "Description")
	}
	if u.DnssecState != "" {
		patch.DnssecConfig = &dnsv1.ManagedZoneDnsSecConfig{State: u.DnssecState}
	}
	if u.labelsChanged() {
		zone, err := client.service.ManagedZones.Get(ref.Project, ref.Name).Context(ctx).Do()
		if err != nil {
			return outcome, fmt.Errorf("read managed zone (%s): %w", ref.Name, err)
		}
		if labels, changed := applyLabels(zone.Labels, u); changed {
			patch.Labels = labels
			patch.ForceSendFields = append(patch.ForceSendFields, "Labels")
		} else {
			alog.Debugf(ctx, "labels of managed zone (%s) unchanged", ref.Name)
		}
	}

	op, err := client.service.ManagedZones.Patch(ref.Project, ref.Name, patch).Context(ctx).Do()
	if err != nil {
		return outcome, fmt.Errorf("update managed zone (%s): %w", ref.Name, err)
	}
	opRef, err := Reference(ref, op)
	if err != nil {
		return outcome, err
	}
	alog.Debugf(ctx, "update managed zone (%s): operation (%s)", ref.Name, opRef.Key())

	return client.zones.Resolve(ctx, opRef, lro.Request{
		Description: fmt.Sprintf("Updating managed zone [%s]", ref.Name),
		Kind:        "managed zone",
		Name:        ref.Name,
		Hint:        OperationsHint,
		Async:       async,
	})
}

// DescribeOperation reads a managed zone operation without waiting for it.
func DescribeOperation(ctx context.Context, client *Client, zone ZoneRef, operationID string) (*dnsv1.Operation, error) {
	ref := lro.Reference{
		Name:    operationID,
		Locator: lro.Locator{Project: zone.Project, ManagedZone: zone.Name},
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	op, err := getOperation(ctx, client.service, ref)
	if err != nil {
		return nil, fmt.Errorf("describe operation (%s): %w", ref.Key(), err)
	}
	return op, nil
}

// WaitOperation waits for a managed zone operation, typically one returned by an earlier asynchronous update, and
// returns the zone it left behind.
func WaitOperation(ctx context.Context, client *Client, ref lro.Reference) (*dnsv1.ManagedZone, error) {
	return client.zones.Wait(ctx, ref, fmt.Sprintf("Waiting for [%s]", ref.Key()))
}
