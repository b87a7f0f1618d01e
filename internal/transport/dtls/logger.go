package dtls

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// slogFactory routes pion's internal logging into slog. pion is chatty at
// trace and debug, so both land on slog's debug level.
type slogFactory struct{}

func (slogFactory) NewLogger(scope string) logging.LeveledLogger {
	return slogLogger{l: slog.Default().With("component", "dtls", "scope", scope)}
}

type slogLogger struct{ l *slog.Logger }

func (s slogLogger) log(level slog.Level, msg string) {
	s.l.Log(context.Background(), level, msg)
}

func (s slogLogger) Trace(msg string)                  { s.log(slog.LevelDebug, msg) }
func (s slogLogger) Tracef(format string, args ...any) { s.log(slog.LevelDebug, fmt.Sprintf(format, args...)) }
func (s slogLogger) Debug(msg string)                  { s.log(slog.LevelDebug, msg) }
func (s slogLogger) Debugf(format string, args ...any) { s.log(slog.LevelDebug, fmt.Sprintf(format, args...)) }
func (s slogLogger) Info(msg string)                   { s.log(slog.LevelInfo, msg) }
func (s slogLogger) Infof(format string, args ...any)  { s.log(slog.LevelInfo, fmt.Sprintf(format, args...)) }
func (s slogLogger) Warn(msg string)                   { s.log(slog.LevelWarn, msg) }
func (s slogLogger) Warnf(format string, args ...any)  { s.log(slog.LevelWarn, fmt.Sprintf(format, args...)) }
func (s slogLogger) Error(msg string)                  { s.log(slog.LevelError, msg) }
func (s slogLogger) Errorf(format string, args ...any) { s.log(slog.LevelError, fmt.Sprintf(format, args...)) }
