package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog's debug level so pion's trace output only
// appears when explicitly requested.
const levelTrace = slog.LevelDebug - 4

// LoggerFactory routes pion's internal logging through slog. Each pion scope
// ("ice", "dtls", "pc", ...) becomes a "scope" attribute.
type LoggerFactory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = LoggerFactory{}

func NewLoggerFactory(logger *slog.Logger) LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return LoggerFactory{Logger: logger.With("component", "pion")}
}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return slogLeveled{log: f.Logger.With("scope", scope)}
}

type slogLeveled struct {
	log *slog.Logger
}

func (l slogLeveled) emit(level slog.Level, msg string) {
	l.log.Log(context.Background(), level, msg)
}

func (l slogLeveled) emitf(level slog.Level, format string, args ...any) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l slogLeveled) Trace(msg string)                  { l.emit(levelTrace, msg) }
func (l slogLeveled) Tracef(format string, args ...any) { l.emitf(levelTrace, format, args...) }
func (l slogLeveled) Debug(msg string)                  { l.emit(slog.LevelDebug, msg) }
func (l slogLeveled) Debugf(format string, args ...any) { l.emitf(slog.LevelDebug, format, args...) }
func (l slogLeveled) Info(msg string)                   { l.emit(slog.LevelInfo, msg) }
func (l slogLeveled) Infof(format string, args ...any)  { l.emitf(slog.LevelInfo, format, args...) }
func (l slogLeveled) Warn(msg string)                   { l.emit(slog.LevelWarn, msg) }
func (l slogLeveled) Warnf(format string, args ...any)  { l.emitf(slog.LevelWarn, format, args...) }
func (l slogLeveled) Error(msg string)                  { l.emit(slog.LevelError, msg) }
func (l slogLeveled) Errorf(format string, args ...any) { l.emitf(slog.LevelError, format, args...) }
