package config

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sirupsen/logrus"
)

// ParseLevel 校验日志级别名
func ParseLevel(name string) (logrus.Level, error) {
	switch name {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// NewLogger 构造按级别过滤的 go-kit logger，并把同样的级别应用到 logrus
func NewLogger(w io.Writer, name string) (log.Logger, error) {
	lvl, err := ParseLevel(name)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(w)
	logrus.SetLevel(lvl)

	var opt level.Option
	switch lvl {
	case logrus.DebugLevel:
		opt = level.AllowDebug()
	case logrus.InfoLevel:
		opt = level.AllowInfo()
	case logrus.WarnLevel:
		opt = level.AllowWarn()
	default:
		opt = level.AllowError()
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, opt, level.SquelchNoLevel(false))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger, nil
}
