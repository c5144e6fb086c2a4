package droute

import (
	"context"
	"net"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// DNSListener is a standard DNS listener for UDP or TCP.
type DNSListener struct {
	*dns.Server
	id string
}

var _ Listener = &DNSListener{}

type ListenOptions struct {
	// Network allowed to query this listener.
	AllowedNet []*net.IPNet
}

// NewDNSListener returns an instance of either a UDP or TCP DNS listener.
func NewDNSListener(id, addr, net string, opt ListenOptions, handler QueryHandler) *DNSListener {
	return &DNSListener{
		id: id,
		Server: &dns.Server{
			Addr:    addr,
			Net:     net,
			Handler: listenHandler(id, net, addr, handler, opt.AllowedNet),
		},
	}
}

// Start the DNS listener.
func (s DNSListener) Start() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": s.Net, "addr": s.Addr}).Info("starting listener")
	return s.ListenAndServe()
}

// Stop the listener.
func (s DNSListener) Stop() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": s.Net, "addr": s.Addr}).Info("stopping listener")
	return s.Shutdown()
}

func (s DNSListener) String() string {
	return s.id
}

// DNS handler to forward all incoming requests to a given handler.
func listenHandler(id, protocol, addr string, h QueryHandler, allowedNet []*net.IPNet) dns.HandlerFunc {
	metrics := NewListenerMetrics("listener", id)
	return func(w dns.ResponseWriter, req *dns.Msg) {
		var sourceIP net.IP
		switch addr := w.RemoteAddr().(type) {
		case *net.TCPAddr:
			sourceIP = addr.IP
		case *net.UDPAddr:
			sourceIP = addr.IP
		}

		log := Log.WithFields(logrus.Fields{
			"id":       id,
			"client":   sourceIP,
			"qname":    qName(req),
			"protocol": protocol,
			"addr":     addr,
		})
		log.Debug("received query")
		metrics.query.Add(1)

		var a *dns.Msg
		if isAllowed(allowedNet, sourceIP) {
			log.WithField("resolver", h.String()).Debug("forwarding query to resolver")
			a = h.Resolve(context.Background(), req)
		} else {
			metrics.refused.Add("acl", 1)
			log.Debug("refusing client ip")
			a = refused(req)
		}

		// Responses received over TLS may carry padding, not needed on a plain connection
		stripPadding(a)

		// Check the response actually fits if the query was sent over UDP. If not, respond with TC flag.
		if protocol == "udp" {
			maxSize := dns.MinMsgSize
			if edns0 := req.IsEdns0(); edns0 != nil {
				maxSize = int(edns0.UDPSize())
			}
			a.Truncate(maxSize)
		}

		metrics.response.Add(rCode(a), 1)
		_ = w.WriteMsg(a)
	}
}

func isAllowed(allowedNet []*net.IPNet, ip net.IP) bool {
	if len(allowedNet) == 0 {
		return true
	}
	for _, net := range allowedNet {
		if net.Contains(ip) {
			return true
		}
	}
	return false
}
