package peer

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// RegisterCodecsFunc lets a media source install its own codecs (for example
// a hardware capture pipeline with specific encoders) on the MediaEngine. A
// nil func registers pion's defaults.
type RegisterCodecsFunc func(*webrtc.MediaEngine) error

// NewAPI builds the shared webrtc.API for all call attempts. Pion's internal
// logging is routed through the process logger so ICE and DTLS diagnostics
// land in the same stream as everything else.
func NewAPI(logger *slog.Logger, registerCodecs RegisterCodecsFunc) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if registerCodecs == nil {
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register default codecs: %w", err)
		}
	} else if err := registerCodecs(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = &slogLoggerFactory{base: logger}

	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

type slogLoggerFactory struct {
	base *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{l: f.base.With("pion", scope)}
}

// slogLeveledLogger adapts pion/logging onto log/slog. Trace is folded into
// Debug since slog has no finer level.
type slogLeveledLogger struct {
	l *slog.Logger
}

func (s *slogLeveledLogger) Trace(msg string) { s.l.Debug(msg) }
func (s *slogLeveledLogger) Tracef(format string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, args...))
}
func (s *slogLeveledLogger) Debug(msg string) { s.l.Debug(msg) }
func (s *slogLeveledLogger) Debugf(format string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, args...))
}
func (s *slogLeveledLogger) Info(msg string) { s.l.Info(msg) }
func (s *slogLeveledLogger) Infof(format string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(format, args...))
}
func (s *slogLeveledLogger) Warn(msg string) { s.l.Warn(msg) }
func (s *slogLeveledLogger) Warnf(format string, args ...interface{}) {
	s.l.Warn(fmt.Sprintf(format, args...))
}
func (s *slogLeveledLogger) Error(msg string) { s.l.Error(msg) }
func (s *slogLeveledLogger) Errorf(format string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(format, args...))
}
