package tlscheck

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops messages arriving within interval of the last one
// it let through.
type rateLimitedLogger struct {
	log       *slog.Logger
	sometimes rate.Sometimes
}

func newRateLimitedLogger(log *slog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: log, sometimes: rate.Sometimes{Interval: interval}}
}

func (l *rateLimitedLogger) Warn(msg string, args ...any) {
	l.sometimes.Do(func() {
		l.log.Warn(msg, args...)
	})
}
