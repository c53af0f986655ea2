package lro

import (
	"strings"

	statuspb "google.golang.org/genproto/googleapis/rpc/status"

	"go.alis.build/waiter/internal/validate"
)

// Scope is the level at which an operation lives.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeRegional
	ScopeZonal
	ScopeManagedZone
)

func (s Scope) String() string {
	switch s {
	case ScopeRegional:
		return "regional"
	case ScopeZonal:
		return "zonal"
	case ScopeManagedZone:
		return "managed-zone"
	default:
		return "global"
	}
}

// Locator identifies where the operation's target resource lives.
// Only the fields relevant to the operation family are set.
type Locator struct {
	Project     string
	Region      string
	Zone        string
	ManagedZone string
}

// Reference identifies a pending operation. It is produced from the response to a mutation request and never
// changes afterwards.
type Reference struct {
	// The operation identifier as reported by the service.
	Name string
	// The URI at which the operation can be looked up, if the service provides one.
	SelfLink string
	// Locates the operation within its project.
	Locator Locator
}

// Scope returns the most specific scope set on the locator.
func (r Reference) Scope() Scope {
	switch {
	case r.Locator.Zone != "":
		return ScopeZonal
	case r.Locator.Region != "":
		return ScopeRegional
	case r.Locator.ManagedZone != "":
		return ScopeManagedZone
	default:
		return ScopeGlobal
	}
}

// Key returns a stable identity for the operation: the self link when present, otherwise a resource path built
// from the locator and name.
func (r Reference) Key() string {
	if r.SelfLink != "" {
		return r.SelfLink
	}
	var b strings.Builder
	if r.Locator.Project != "" {
		b.WriteString("projects/" + r.Locator.Project + "/")
	}
	switch r.Scope() {
	case ScopeZonal:
		b.WriteString("zones/" + r.Locator.Zone + "/")
	case ScopeRegional:
		b.WriteString("regions/" + r.Locator.Region + "/")
	case ScopeManagedZone:
		b.WriteString("managedZones/" + r.Locator.ManagedZone + "/")
	}
	// google.longrunning names already carry their collection.
	if !strings.HasPrefix(r.Name, "operations/") {
		b.WriteString("operations/")
	}
	b.WriteString(r.Name)
	return b.String()
}

func (r Reference) String() string {
	return r.Key()
}

// Validate checks the reference before any network call is made.
func (r Reference) Validate() error {
	if err := validate.Argument("name", r.Name, validate.OperationNameRegex); err != nil {
		return err
	}
	if r.SelfLink != "" {
		if err := validate.Link("selfLink", r.SelfLink); err != nil {
			return err
		}
	}
	checks := []struct {
		name, value, regex string
	}{
		{"project", r.Locator.Project, validate.ProjectRegex},
		{"region", r.Locator.Region, validate.RegionRegex},
		{"zone", r.Locator.Zone, validate.ZoneRegex},
		{"managedZone", r.Locator.ManagedZone, validate.ManagedZoneRegex},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if err := validate.Argument(c.name, c.value, c.regex); err != nil {
			return err
		}
	}
	return nil
}

// Status is one snapshot of an operation, as returned by a poll.
type Status[R any] struct {
	// Name of the operation as reported by the service. Empty if the service does not report it.
	Name string
	Done bool
	// Error is set when the operation finished unsuccessfully.
	Error *statuspb.Status
	// Result holds the resource produced by a successful operation.
	Result R
	// Progress is a percentage, if the service reports one.
	Progress int
	Detail   string
}

// Request describes how a caller wants a freshly submitted operation handled.
type Request struct {
	// Description is written as progress while waiting, for example "Changing minimum CPU platform of instance [vm-1]".
	Description string
	// Kind and Name identify the mutated resource in the notice written for asynchronous requests.
	Kind string
	Name string
	// Hint tells the user how to check on the operation later.
	Hint string
	// Async returns the pending reference instead of waiting.
	Async bool
}

// Outcome is the result of Resolve. Either Pending is true and only Reference is meaningful, or Resource holds the
// final resource.
type Outcome[R any] struct {
	Pending   bool
	Reference Reference
	Resource  R
}
