package droute

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ErrUnknownTag is returned when a query is sent to a tag that isn't defined.
var ErrUnknownTag = errors.New("unknown upstream tag")

// ConfigError is returned when building a router from an inconsistent configuration,
// like rules referencing tags that don't exist or hybrids forming a loop. A router
// is never returned together with a ConfigError.
type ConfigError struct {
	Tag    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Tag == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration for '%s': %s", e.Tag, e.Reason)
}

// UpstreamError is returned when an upstream fails to answer a query. It carries the
// tag of the upstream and the underlying cause.
type UpstreamError struct {
	Tag string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream '%s' failed: %s", e.Tag, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// QueryTimeoutError is returned when a query times out.
type QueryTimeoutError struct {
	query *dns.Msg
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query for '%s' timed out", qName(e.query))
}

// Timeout makes QueryTimeoutError usable as a net.Error.
func (e QueryTimeoutError) Timeout() bool { return true }

// Temporary is part of the net.Error interface.
func (e QueryTimeoutError) Temporary() bool { return true }
