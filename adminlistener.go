package droute

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener serves the metrics of all components over plain HTTP.
type AdminListener struct {
	httpServer *http.Server
	id         string
	addr       string
}

var _ Listener = &AdminListener{}

// NewAdminListener returns an instance of an admin service listener. Metrics are
// available at /droute/vars.
func NewAdminListener(id, addr string) *AdminListener {
	mux := http.NewServeMux()
	mux.Handle("/droute/vars", expvar.Handler())
	return &AdminListener{
		id:   id,
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  adminServerTimeout,
			WriteTimeout: adminServerTimeout,
		},
	}
}

// Start the admin server.
func (s *AdminListener) Start() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": "http", "addr": s.addr}).Info("starting listener")
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Stop the server.
func (s *AdminListener) Stop() error {
	Log.WithFields(logrus.Fields{"id": s.id, "protocol": "http", "addr": s.addr}).Info("stopping listener")
	return s.httpServer.Shutdown(context.Background())
}

func (s *AdminListener) String() string {
	return s.id
}
