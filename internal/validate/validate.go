package validate

import (
	"net/url"
	"regexp"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

const (
	// OperationNameRegex matches operation identifiers of Compute Engine ('operation-1700000000000-...'),
	// Cloud DNS (numeric ids) and google.longrunning ('operations/...').
	OperationNameRegex = `^[A-Za-z0-9][A-Za-z0-9_.~:/-]{0,255}$`
	// ProjectRegex matches project ids, including domain-scoped ones ('example.com:my-project').
	ProjectRegex = `^([a-z0-9.-]+:)?[a-z][a-z0-9-]{4,28}[a-z0-9]$`
	RegionRegex  = `^[a-z]+-[a-z]+[0-9]+$`
	ZoneRegex    = `^[a-z]+-[a-z]+[0-9]+-[a-z]$`
	// ManagedZoneRegex follows the Cloud DNS naming rules.
	ManagedZoneRegex = `^[a-z][a-z0-9-]{0,62}$`
	// ResourceNameRegex matches Compute Engine resource names (RFC 1035).
	ResourceNameRegex = `^[a-z]([-a-z0-9]{0,61}[a-z0-9])?$`
	LabelKeyRegex     = `^[\p{Ll}\p{Lo}][\p{Ll}\p{Lo}\p{N}_-]{0,62}$`
	LabelValueRegex   = `^[\p{Ll}\p{Lo}\p{N}_-]{0,63}$`
)

var compiled = map[string]*regexp.Regexp{}

func init() {
	for _, r := range []string{OperationNameRegex, ProjectRegex, RegionRegex, ZoneRegex, ManagedZoneRegex, ResourceNameRegex, LabelKeyRegex, LabelValueRegex} {
		compiled[r] = regexp.MustCompile(r)
	}
}

// Argument validates an argument and returns a grpc error if not valid.
func Argument(name string, value string, regex string) error {
	re, ok := compiled[regex]
	if !ok {
		re = regexp.MustCompile(regex)
	}
	// validate the field using regex
	if !re.MatchString(value) {
		return status.Errorf(
			codes.InvalidArgument,
			"%s (%s) is not of the right format: %s", name, value, regex)
	}
	return nil
}

// Link validates that value is an absolute http(s) URI.
func Link(name string, value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return status.Errorf(codes.InvalidArgument, "%s (%s) is not an absolute http(s) URI", name, value)
	}
	return nil
}

// Required validate an argument to be not nil. A typed nil message counts as nil.
func Required(name string, message proto.Message) error {
	if message == nil || !message.ProtoReflect().IsValid() {
		return status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return nil
}
