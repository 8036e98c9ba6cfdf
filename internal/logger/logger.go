// Package logger provides a small leveled logging facade used by every
// long-lived component in the swarm core. Call sites never import the
// backend directly so it can be swapped without touching component code.
package logger

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

var backend = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

// SetLevel sets the minimum level logged by every Logger returned from New.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Logger is a named leveled logger. The name is attached to every line so
// interleaved output from many goroutines (one per peer, one per torrent)
// stays attributable.
type Logger struct {
	l zerolog.Logger
}

// New returns a Logger tagged with name, e.g. "peer <- 1.2.3.4:6881".
func New(name string) Logger {
	return Logger{l: backend.With().Str("component", name).Logger()}
}

func (lg Logger) Debug(args ...interface{})   { lg.l.Debug().Msg(sprint(args...)) }
func (lg Logger) Debugln(args ...interface{}) { lg.l.Debug().Msg(sprint(args...)) }
func (lg Logger) Debugf(format string, args ...interface{}) {
	lg.l.Debug().Msgf(format, args...)
}
func (lg Logger) Info(args ...interface{})   { lg.l.Info().Msg(sprint(args...)) }
func (lg Logger) Infoln(args ...interface{}) { lg.l.Info().Msg(sprint(args...)) }
func (lg Logger) Infof(format string, args ...interface{}) {
	lg.l.Info().Msgf(format, args...)
}
func (lg Logger) Warning(args ...interface{})   { lg.l.Warn().Msg(sprint(args...)) }
func (lg Logger) Warningln(args ...interface{}) { lg.l.Warn().Msg(sprint(args...)) }
func (lg Logger) Warningf(format string, args ...interface{}) {
	lg.l.Warn().Msgf(format, args...)
}
func (lg Logger) Error(args ...interface{})   { lg.l.Error().Msg(sprint(args...)) }
func (lg Logger) Errorln(args ...interface{}) { lg.l.Error().Msg(sprint(args...)) }
func (lg Logger) Errorf(format string, args ...interface{}) {
	lg.l.Error().Msgf(format, args...)
}
func (lg Logger) Fatal(args ...interface{}) {
	lg.l.Fatal().Msg(sprint(args...))
}

func sprint(args ...interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	s := ""
	for i, a := range args {
		if i > 0 {
			s += " "
		}
		s += toString(a)
	}
	return s
}

func toString(a interface{}) string {
	if err, ok := a.(error); ok {
		return err.Error()
	}
	if s, ok := a.(string); ok {
		return s
	}
	if st, ok := a.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%v", a)
}
