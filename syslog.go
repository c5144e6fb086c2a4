package droute

import (
	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
)

// SyslogHook sends log entries to a syslog server.
type SyslogHook struct {
	writer *syslog.Writer
	levels []logrus.Level
}

var _ logrus.Hook = &SyslogHook{}

type SyslogOptions struct {
	// "udp", "tcp", "unix". Uses the local syslog server if empty.
	Network string

	// Remote address, defaults to local syslog server
	Address string

	// Syslog tag
	Tag string

	// Entries below this level are not sent, defaults to info.
	Level logrus.Level
}

// NewSyslogHook connects to a syslog server.
func NewSyslogHook(opt SyslogOptions) (*SyslogHook, error) {
	if opt.Level == 0 {
		opt.Level = logrus.InfoLevel
	}
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.LOG_INFO|syslog.LOG_DAEMON, opt.Tag)
	if err != nil {
		return nil, err
	}
	return &SyslogHook{
		writer: writer,
		levels: logrus.AllLevels[:opt.Level+1],
	}, nil
}

func (h *SyslogHook) Levels() []logrus.Level {
	return h.levels
}

func (h *SyslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return h.writer.Crit(line)
	case logrus.ErrorLevel:
		return h.writer.Err(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	case logrus.InfoLevel:
		return h.writer.Info(line)
	default:
		return h.writer.Debug(line)
	}
}

// Close the connection to the syslog server.
func (h *SyslogHook) Close() error {
	return h.writer.Close()
}
