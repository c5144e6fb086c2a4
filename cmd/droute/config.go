package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

type config struct {
	Title       string
	DisableIPv6 bool   `toml:"disable-ipv6"`
	CacheSize   int    `toml:"cache-size"`
	DefaultTag  string `toml:"default-tag"`
	Log         logConfig
	Cache       cacheConfig
	Admin       adminConfig
	Listeners   map[string]listener
	Upstreams   map[string]upstream
	Rules       []rule
}

type logConfig struct {
	Level string

	// "text" or "json"
	Format string
	File   string

	// Maximum size of the log file in megabytes before it's rotated
	MaxSize       int    `toml:"max-size"`
	MaxBackups    int    `toml:"max-backups"`
	SyslogNetwork string `toml:"syslog-network"`
	SyslogAddress string `toml:"syslog-address"`
	SyslogTag     string `toml:"syslog-tag"`
}

type cacheConfig struct {
	Backend       string
	RedisAddress  string `toml:"redis-address"`
	RedisUsername string `toml:"redis-username"`
	RedisPassword string `toml:"redis-password"`
	RedisDB       int    `toml:"redis-db"`
	KeyPrefix     string `toml:"key-prefix"`
}

type adminConfig struct {
	Address string
}

type listener struct {
	Address    string
	Protocol   string
	AllowedNet []string `toml:"allowed-net"`
}

type upstream struct {
	Address  string
	Protocol string

	// Seconds
	Timeout          int
	ServerName       string `toml:"server-name"`
	BootstrapAddress string `toml:"bootstrap-address"`

	// TLS options for dot and doh, PEM files
	CA        string
	ClientCrt string `toml:"client-crt"`
	ClientKey string `toml:"client-key"`

	// Upstreams of a hybrid
	Tags           []string
	DoH            doh
	Socks5Address  string `toml:"socks5-address"`
	Socks5Username string `toml:"socks5-username"`
	Socks5Password string `toml:"socks5-password"`
}

type doh struct {
	Method    string
	Transport string
}

type rule struct {
	Tag     string
	Domains []string
	File    string
	URL     string
}

// Reads a config file and returns the decoded structure.
func loadConfig(name string) (config, error) {
	var c config
	f, err := os.Open(name)
	if err != nil {
		return c, err
	}
	defer f.Close()
	_, err = toml.NewDecoder(f).Decode(&c)
	return c, err
}
