package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/folbricht/droute"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Builds the router with its upstreams and rules from the config.
func buildRouter(c config) (*droute.Router[droute.Tag], error) {
	if c.DefaultTag == "" {
		return nil, fmt.Errorf("no default-tag defined")
	}
	list, err := buildUpstreams(c.Upstreams)
	if err != nil {
		return nil, err
	}
	rules, err := buildRules(c.Rules)
	if err != nil {
		return nil, err
	}

	switch c.Cache.Backend {
	case "", "memory":
		return droute.NewRouter(list, c.DisableIPv6, c.CacheSize, droute.Tag(c.DefaultTag), rules)
	case "redis":
		backend := droute.NewRedisBackend(droute.RedisBackendOptions{
			RedisOptions: redis.Options{
				Addr:     c.Cache.RedisAddress,
				Username: c.Cache.RedisUsername,
				Password: c.Cache.RedisPassword,
				DB:       c.Cache.RedisDB,
			},
			KeyPrefix: c.Cache.KeyPrefix,
		})
		upstreams, err := droute.NewUpstreamsWithCache(list, backend)
		if err != nil {
			backend.Close()
			return nil, err
		}
		r, err := droute.NewRouterWithUpstreams(upstreams, c.DisableIPv6, droute.Tag(c.DefaultTag), rules)
		if err != nil {
			backend.Close()
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend '%s'", c.Cache.Backend)
	}
}

func buildUpstreams(upstreams map[string]upstream) ([]droute.Upstream[droute.Tag], error) {
	list := make([]droute.Upstream[droute.Tag], 0, len(upstreams))
	for id, u := range upstreams {
		up := droute.Upstream[droute.Tag]{
			Tag:     droute.Tag(id),
			Timeout: time.Duration(u.Timeout) * time.Second,
		}
		switch u.Protocol {
		case "udp":
			up.Method = droute.UDP{Addr: u.Address}
		case "tcp":
			up.Method = droute.TCP{Addr: u.Address}
		case "dot":
			tlsConfig, err := droute.TLSClientConfig(u.CA, u.ClientCrt, u.ClientKey, u.ServerName)
			if err != nil {
				return nil, fmt.Errorf("invalid tls options for upstream '%s': %w", id, err)
			}
			up.Method = droute.DoT{
				Addr:          u.Address,
				ServerName:    u.ServerName,
				BootstrapAddr: u.BootstrapAddress,
				TLSConfig:     tlsConfig,
			}
		case "doh":
			tlsConfig, err := droute.TLSClientConfig(u.CA, u.ClientCrt, u.ClientKey, u.ServerName)
			if err != nil {
				return nil, fmt.Errorf("invalid tls options for upstream '%s': %w", id, err)
			}
			up.Method = droute.DoH{
				URL:           u.Address,
				Method:        u.DoH.Method,
				Transport:     u.DoH.Transport,
				BootstrapAddr: u.BootstrapAddress,
				TLSConfig:     tlsConfig,
			}
		case "hybrid":
			tags := make([]droute.Tag, 0, len(u.Tags))
			for _, t := range u.Tags {
				tags = append(tags, droute.Tag(t))
			}
			up.Method = droute.Hybrid[droute.Tag]{Tags: tags}
		default:
			return nil, fmt.Errorf("unsupported protocol '%s' for upstream '%s'", u.Protocol, id)
		}
		if u.Socks5Address != "" {
			dialer, err := droute.NewSocks5Dialer(u.Socks5Address, droute.Socks5DialerOptions{
				Username:   u.Socks5Username,
				Password:   u.Socks5Password,
				TCPTimeout: up.Timeout,
				UDPTimeout: up.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to configure socks5 proxy for upstream '%s': %w", id, err)
			}
			up.Dialer = dialer
		}
		list = append(list, up)
	}
	return list, nil
}

// Loads the domain lists of all rules concurrently. Rule order is preserved.
func buildRules(rules []rule) ([]droute.Rule[droute.Tag], error) {
	loaders := make([]multiLoader, len(rules))
	for i, r := range rules {
		if r.Tag == "" {
			return nil, fmt.Errorf("rule %d has no tag", i+1)
		}
		loaders[i] = ruleLoader(r)
		if len(loaders[i]) == 0 {
			return nil, fmt.Errorf("rule %d for '%s' has no domains, file or url", i+1, r.Tag)
		}
	}

	result := make([]droute.Rule[droute.Tag], len(rules))
	var g errgroup.Group
	for i, r := range rules {
		i, r := i, r
		g.Go(func() error {
			var err error
			result[i], err = droute.NewDomainRule(droute.Tag(r.Tag), loaders[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Combines all lists of a rule into one.
type multiLoader []droute.ListLoader

func ruleLoader(r rule) multiLoader {
	var loaders multiLoader
	if len(r.Domains) > 0 {
		loaders = append(loaders, droute.NewStaticLoader(r.Domains))
	}
	if r.File != "" {
		loaders = append(loaders, droute.NewFileLoader(r.File, droute.FileLoaderOptions{}))
	}
	if r.URL != "" {
		loaders = append(loaders, droute.NewHTTPLoader(r.URL))
	}
	return loaders
}

func (m multiLoader) Load() ([]string, error) {
	var lines []string
	for _, loader := range m {
		l, err := loader.Load()
		if err != nil {
			return nil, err
		}
		lines = append(lines, l...)
	}
	return lines, nil
}

func (m multiLoader) String() string {
	names := make([]string, 0, len(m))
	for _, l := range m {
		names = append(names, l.String())
	}
	return strings.Join(names, ",")
}

func buildListener(id string, l listener, handler droute.QueryHandler) (droute.Listener, error) {
	var opt droute.ListenOptions
	for _, s := range l.AllowedNet {
		_, ipNet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed-net '%s' for listener '%s': %w", s, id, err)
		}
		opt.AllowedNet = append(opt.AllowedNet, ipNet)
	}
	switch l.Protocol {
	case "udp", "tcp":
		return droute.NewDNSListener(id, l.Address, l.Protocol, opt, handler), nil
	default:
		return nil, fmt.Errorf("unsupported protocol '%s' for listener '%s'", l.Protocol, id)
	}
}
