package droute

import (
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Log is a package-global logger used throughout the library. Configuration can be
// changed directly on this instance or the instance replaced.
var Log = logrus.New()

func logger(id string, q *dns.Msg) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"id":    id,
		"qid":   q.Id,
		"qtype": qType(q),
		"qname": qName(q),
	})
}
