// Package logging builds the logrus logger shared by the jobtracker, minion
// and watchdog packages: logrus fanned out through an lfshook to rotating
// per-level files, with a colorized prefixed console formatter for
// interactive runs.
package logging

import (
	"io"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// New builds a logger named component (e.g. "jobtracker", "minion") that
// writes human-readable, colorized lines to stdout and rotates info/warn
// and error/fatal into separate daily log files under dir.
//
// dir == "" disables file rotation; only the console formatter is used,
// which is the common case for short-lived CLI invocations.
func New(component string, dir string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(colorable.NewColorableStdout())
	logger.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	if dir == "" {
		return logger.WithField("component", component).Logger, nil
	}

	infoWriter, err := rotatelogs.New(
		dir+"/"+component+".info.%Y%m%d.log",
		rotatelogs.WithLinkName(dir+"/"+component+".info.log"),
		rotatelogs.WithRotationTime(dayDuration),
		rotatelogs.WithMaxAge(maxLogAge),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "open rotating info log for %s", component)
	}
	errWriter, err := rotatelogs.New(
		dir+"/"+component+".error.%Y%m%d.log",
		rotatelogs.WithLinkName(dir+"/"+component+".error.log"),
		rotatelogs.WithRotationTime(dayDuration),
		rotatelogs.WithMaxAge(maxLogAge),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "open rotating error log for %s", component)
	}

	writerMap := lfshook.WriterMap{
		logrus.InfoLevel:  io.Writer(infoWriter),
		logrus.WarnLevel:  io.Writer(infoWriter),
		logrus.ErrorLevel: io.Writer(errWriter),
		logrus.FatalLevel: io.Writer(errWriter),
	}
	logger.AddHook(lfshook.NewHook(writerMap, &logrus.JSONFormatter{}))

	return logger.WithField("component", component).Logger, nil
}

// Entry builds a *logrus.Entry pre-tagged with the fields every log line
// from a single job or worker should carry.
func Entry(logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Discard returns a logger that drops everything, with no rotating log
// files on disk.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const (
	dayDuration = 24 * time.Hour
	maxLogAge   = 7 * dayDuration
)
