package droute

import (
	"context"
	"expvar"
	"fmt"

	"github.com/miekg/dns"
)

// Listener is an interface for a DNS listener.
type Listener interface {
	Start() error
	Stop() error
	fmt.Stringer
}

// QueryHandler answers queries received by a listener. It must always return a
// response. *Router implements it.
type QueryHandler interface {
	Resolve(context.Context, *dns.Msg) *dns.Msg
	fmt.Stringer
}

type ListenerMetrics struct {
	// DNS query count.
	query *expvar.Int
	// DNS response code counts.
	response *expvar.Map
	// Refused queries by reason.
	refused *expvar.Map
}

func NewListenerMetrics(base string, id string) *ListenerMetrics {
	return &ListenerMetrics{
		query:    getVarInt(base, id, "query"),
		response: getVarMap(base, id, "response"),
		refused:  getVarMap(base, id, "refused"),
	}
}
