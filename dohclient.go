package droute

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// DoHClientOptions contains options used by the DNS-over-HTTP resolver.
type DoHClientOptions struct {
	// Query method, either GET or POST. If empty, POST is used.
	Method string

	// IP to connect to instead of resolving the host in the URL.
	BootstrapAddr string

	// Transport protocol to run HTTPS over. "quic" or "tcp", defaults to "tcp".
	Transport string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	TLSConfig *tls.Config

	// Optional dialer, e.g. proxy. Not supported with the quic transport.
	Dialer Dialer
}

// DoHClient is a DNS-over-HTTPS resolver using HTTP/2 or HTTP/3.
type DoHClient struct {
	id       string
	endpoint string
	template *uritemplates.UriTemplate
	client   *http.Client
	opt      DoHClientOptions
	metrics  *dohMetrics
}

type dohMetrics struct {
	// Count of queries.
	query *expvar.Int
	// Count of responses by rcode.
	response *expvar.Map
	// Count of errors by type.
	err *expvar.Map
}

var _ Resolver = &DoHClient{}

const dohMediaType = "application/dns-message"

// NewDoHClient returns a DoH resolver for the endpoint URL, which may be a template
// such as https://dns.example/dns-query{?dns}. No connection is made until the first
// query.
func NewDoHClient(id, endpoint string, opt DoHClientOptions) (*DoHClient, error) {
	switch opt.Method {
	case "":
		opt.Method = http.MethodPost
	case http.MethodPost, http.MethodGet:
	default:
		return nil, fmt.Errorf("unsupported method '%s'", opt.Method)
	}
	template, err := uritemplates.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid url template '%s': %w", endpoint, err)
	}

	var tr http.RoundTripper
	switch opt.Transport {
	case "", "tcp":
		tr, err = dohTcpTransport(opt)
	case "quic":
		if opt.Dialer != nil {
			return nil, errors.New("custom dialers are not supported with the quic transport")
		}
		tr, err = dohQuicTransport(endpoint, opt)
	default:
		err = fmt.Errorf("unsupported transport '%s'", opt.Transport)
	}
	if err != nil {
		return nil, err
	}

	return &DoHClient{
		id:       id,
		endpoint: endpoint,
		template: template,
		client:   &http.Client{Transport: tr},
		opt:      opt,
		metrics: &dohMetrics{
			query:    getVarInt("client", id, "query"),
			response: getVarMap("client", id, "response"),
			err:      getVarMap("client", id, "error"),
		},
	}, nil
}

// Resolve a DNS query.
func (d *DoHClient) Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	logger(d.id, q).WithFields(logrus.Fields{
		"resolver": d.endpoint,
		"protocol": "doh",
		"method":   d.opt.Method,
	}).Debug("querying upstream resolver")
	d.metrics.query.Add(1)

	// Padding and the GET ID change the query, work on a copy
	query := q.Copy()
	padQuery(query)

	req, err := d.newRequest(ctx, query)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.err.Add("http", 1)
		return nil, contextError(ctx, q, err)
	}
	defer resp.Body.Close()
	a, err := d.responseFromHTTP(resp)
	if err != nil {
		return nil, contextError(ctx, q, err)
	}
	stripPadding(a)

	// Servers may answer with a different ID, 0 is recommended in RFC8484 for GET.
	a.Id = q.Id
	if err := checkAnswer(q, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Builds the HTTP request for a query. POST sends the query in wire format as body.
// GET encodes it as base64url into the "dns" variable of the URL template, with ID 0
// so that responses can be cached by HTTP proxies.
func (d *DoHClient) newRequest(ctx context.Context, q *dns.Msg) (*http.Request, error) {
	if d.opt.Method == http.MethodGet {
		q.Id = 0
	}
	b, err := q.Pack()
	if err != nil {
		d.metrics.err.Add("pack", 1)
		return nil, err
	}
	var (
		vars = make(map[string]interface{})
		body io.Reader
	)
	if d.opt.Method == http.MethodGet {
		vars["dns"] = base64.RawURLEncoding.EncodeToString(b)
	} else {
		body = bytes.NewReader(b)
	}
	u, err := d.template.Expand(vars)
	if err != nil {
		d.metrics.err.Add("template", 1)
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, d.opt.Method, u, body)
	if err != nil {
		d.metrics.err.Add("request", 1)
		return nil, err
	}
	req.Header.Set("accept", dohMediaType)
	if body != nil {
		req.Header.Set("content-type", dohMediaType)
	}
	return req, nil
}

func (d *DoHClient) String() string {
	return d.id
}

// Checks the status code and decodes the DNS message in the body.
func (d *DoHClient) responseFromHTTP(resp *http.Response) (*dns.Msg, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.err.Add(fmt.Sprintf("http%d", resp.StatusCode), 1)
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		d.metrics.err.Add("read", 1)
		return nil, err
	}
	a := new(dns.Msg)
	if err := a.Unpack(rb); err != nil {
		d.metrics.err.Add("unpack", 1)
		return nil, err
	}
	d.metrics.response.Add(rCode(a), 1)
	return a, nil
}

// HTTP/2 transport. The TLS config, bootstrap address, local address and dialer
// from the options are applied.
func dohTcpTransport(opt DoHClientOptions) (http.RoundTripper, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       opt.TLSConfig,
		DisableCompression:    true,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	// net/http only enables HTTP/2 by itself with the default TLS config
	if opt.TLSConfig != nil {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, err
		}
	}
	if opt.BootstrapAddr == "" && opt.LocalAddr == nil && opt.Dialer == nil {
		return tr, nil
	}
	dialer := &net.Dialer{}
	if opt.LocalAddr != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: opt.LocalAddr}
	}
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		addr, err := withBootstrap(addr, opt.BootstrapAddr)
		if err != nil {
			return nil, err
		}
		if opt.Dialer != nil {
			return dialContext(ctx, opt.Dialer, network, addr)
		}
		return dialer.DialContext(ctx, network, addr)
	}
	return tr, nil
}

// HTTP/3 transport. The server name for the handshake defaults to the host in the
// endpoint URL, so that a bootstrap IP can be used for the connection.
func dohQuicTransport(endpoint string, opt DoHClientOptions) (http.RoundTripper, error) {
	tlsConfig := new(tls.Config)
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		tlsConfig.ServerName = u.Hostname()
	}
	tr := &http3.RoundTripper{
		TLSClientConfig: tlsConfig,
		QUICConfig: &quic.Config{
			TokenStore:     quic.NewLRUTokenStore(10, 10),
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	if opt.BootstrapAddr != "" {
		tr.Dial = func(ctx context.Context, addr string, tlsCfg *tls.Config, cfg *quic.Config) (quic.EarlyConnection, error) {
			addr, err := withBootstrap(addr, opt.BootstrapAddr)
			if err != nil {
				return nil, err
			}
			return quic.DialAddrEarly(ctx, addr, tlsCfg, cfg)
		}
	}
	return tr, nil
}
