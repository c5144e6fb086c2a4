package droute

import "github.com/miekg/dns"

// QueryPaddingBlockSize is used to pad queries sent over DoT and DoH according to rfc8467
const QueryPaddingBlockSize = 128

// Fixed buffer to draw on for padding (rather than allocate every time)
var queryPadBuf [QueryPaddingBlockSize]byte

// Adds padding to a query that is to be sent over DoH or DoT. Padding length is according to rfc8467.
// This should not be used for plain (unencrypted) DNS. Queries without EDNS0 are left alone.
func padQuery(q *dns.Msg) {
	edns0q := q.IsEdns0()
	if edns0q == nil {
		return
	}

	// If the query has padding, grab that and truncate it before re-calculating the length
	var paddingOpt *dns.EDNS0_PADDING
	for _, opt := range edns0q.Option {
		if opt.Option() == dns.EDNS0PADDING {
			paddingOpt = opt.(*dns.EDNS0_PADDING)
			paddingOpt.Padding = nil
		}
	}
	if paddingOpt == nil {
		paddingOpt = new(dns.EDNS0_PADDING)
		edns0q.Option = append(edns0q.Option, paddingOpt)
	}

	n := q.Len()
	padLen := QueryPaddingBlockSize - n%QueryPaddingBlockSize
	paddingOpt.Padding = queryPadBuf[0:padLen]
}

// Remove padding from a response. Needed when a response that was received via TLS
// is sent to a client over a plain connection.
func stripPadding(m *dns.Msg) {
	edns0 := m.IsEdns0()
	if edns0 == nil {
		return
	}
	var newOpt []dns.EDNS0
	for _, opt := range edns0.Option {
		if opt.Option() != dns.EDNS0PADDING {
			newOpt = append(newOpt, opt)
		}
	}
	edns0.Option = newOpt
}
