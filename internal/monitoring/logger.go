package monitoring

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"runtime"
	"strings"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Options configures NewLogger.
type Options struct {
	// Level is a logrus level name; empty means info.
	Level string
	// File, when set, adds a rotating log file next to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output replaces stderr. Used by tests.
	Output io.Writer
	// NoColors disables ANSI colours in the formatter.
	NoColors bool
}

// Logger is a logrus logger plus the resources it owns.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

// NewLogger builds the process logger.
func NewLogger(opts Options) (*Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("monitoring: %w", err)
		}
		level = l
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "2006-01-02 15:04:05.000",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	writers := []io.Writer{out}

	logger := &Logger{Logger: l}
	if opts.File != "" {
		logger.file = &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			MaxBackups: orDefault(opts.MaxBackups, 3),
		}
		writers = append(writers, logger.file)
	}
	l.SetOutput(io.MultiWriter(writers...))
	return logger, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Streams are the writers behind the per-package ops, diag and trace
// loggers. Close them when the process is done logging.
type Streams struct {
	Ops, Diag, Trace io.Writer

	closers []io.Closer
}

// StreamWriters maps the ops stream to warn, diag to info and trace to
// debug. A stream whose level is disabled on l is nil, which mutes it.
func StreamWriters(l *logrus.Logger) *Streams {
	s := &Streams{}
	s.Ops = s.writer(l, logrus.WarnLevel)
	s.Diag = s.writer(l, logrus.InfoLevel)
	s.Trace = s.writer(l, logrus.DebugLevel)
	return s
}

func (s *Streams) writer(l *logrus.Logger, level logrus.Level) io.Writer {
	if !l.IsLevelEnabled(level) {
		return nil
	}
	w := l.WriterLevel(level)
	s.closers = append(s.closers, w)
	return w
}

// Close closes the underlying pipes.
func (s *Streams) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
