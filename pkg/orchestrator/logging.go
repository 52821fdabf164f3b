package orchestrator

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps a zerolog.Logger to satisfy the orchestrator's
// Logger interface, translating the printf-ish (msg, args...) shape the
// rest of the package already uses into zerolog's structured fields.
type ZerologAdapter struct {
	log zerolog.Logger
}

// NewZerologLogger builds a console-writer zerolog logger at the given
// level ("debug", "info", "warn", "error"), matching the pattern used for
// CLI agents elsewhere in the stack.
func NewZerologLogger(level string, w io.Writer) *ZerologAdapter {
	if w == nil {
		w = os.Stderr
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	l := zerolog.New(console).Level(parsed).With().Timestamp().Logger()
	return &ZerologAdapter{log: l}
}

func (z *ZerologAdapter) Debug(msg string, args ...interface{}) {
	z.log.Debug().Fields(args).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, args ...interface{}) {
	z.log.Info().Fields(args).Msg(msg)
}

func (z *ZerologAdapter) Warn(msg string, args ...interface{}) {
	z.log.Warn().Fields(args).Msg(msg)
}

func (z *ZerologAdapter) Error(msg string, args ...interface{}) {
	z.log.Error().Fields(args).Msg(msg)
}
