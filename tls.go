package droute

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSClientConfig builds the TLS configuration for DoT and DoH upstreams from PEM
// files. caFile replaces the system roots, crtFile and keyFile add a client
// certificate. All arguments are optional.
func TLSClientConfig(caFile, crtFile, keyFile, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if crtFile != "" || keyFile != "" {
		if crtFile == "" || keyFile == "" {
			return nil, fmt.Errorf("client certificate requires both certificate and key")
		}
		certificate, err := tls.LoadX509KeyPair(crtFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate from %s: %w", crtFile, err)
		}
		tlsConfig.Certificates = []tls.Certificate{certificate}
	}

	if caFile != "" {
		b, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("no CA certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
