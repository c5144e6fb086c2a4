package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folbricht/droute"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	logLevel  string
	logFormat string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "droute <config>",
		Short: "Rule-based DNS router",
		Long: `Rule-based DNS router.

Listens for DNS queries and forwards them to upstream
resolvers, selected by domain lists. Supports plain DNS
over UDP and TCP, DNS-over-TLS and DNS-over-HTTPS as
well as hybrid upstreams that query several resolvers
at once and use the fastest response.
`,
		Example: `  droute config.toml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&opt.logLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error), overrides the config")
	cmd.Flags().StringVar(&opt.logFormat, "log-format", "", "log format (text, json), overrides the config")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, args []string) error {
	config, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	if opt.logLevel != "" {
		config.Log.Level = opt.logLevel
	}
	if opt.logFormat != "" {
		config.Log.Format = opt.logFormat
	}
	if err := setupLogging(config.Log); err != nil {
		return err
	}

	router, err := buildRouter(config)
	if err != nil {
		return err
	}

	var listeners []droute.Listener
	for id, l := range config.Listeners {
		ln, err := buildListener(id, l, router)
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)
	}
	if len(listeners) == 0 {
		return fmt.Errorf("no listeners defined")
	}
	if config.Admin.Address != "" {
		listeners = append(listeners, droute.NewAdminListener("admin", config.Admin.Address))
	}

	// Start the listeners and restart them if they fail
	for _, l := range listeners {
		go func(l droute.Listener) {
			for {
				err := l.Start()
				droute.Log.WithError(err).WithField("id", l.String()).Error("listener failed")
				time.Sleep(time.Second)
			}
		}(l)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	droute.Log.WithField("signal", s.String()).Info("shutting down")
	for _, l := range listeners {
		_ = l.Stop()
	}
	return router.Close()
}

func setupLogging(c logConfig) error {
	log := droute.Log
	if c.Level != "" {
		level, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	switch c.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format '%s'", c.Format)
	}
	if c.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			Compress:   true,
		})
	}
	if c.SyslogNetwork != "" || c.SyslogAddress != "" {
		hook, err := droute.NewSyslogHook(droute.SyslogOptions{
			Network: c.SyslogNetwork,
			Address: c.SyslogAddress,
			Tag:     c.SyslogTag,
			Level:   log.GetLevel(),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize syslog: %w", err)
		}
		log.AddHook(hook)
	}
	return nil
}
