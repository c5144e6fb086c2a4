package droute

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// Resolver is an interface to resolve DNS queries with a single upstream. The context
// bounds the exchange, cancelling it aborts the query.
type Resolver interface {
	Resolve(context.Context, *dns.Msg) (*dns.Msg, error)
	fmt.Stringer
}
