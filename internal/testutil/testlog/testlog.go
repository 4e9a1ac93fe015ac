package testlog

import (
	"testing"

	"github.com/danmuck/n8nctl/internal/logging"
	"github.com/rs/zerolog"
)

// Start returns a logger that writes through t.Log at the test profile level.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	cfg := logging.ConfigureTests()
	logger := zerolog.New(zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t))).
		Level(cfg.Level).
		With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("test start")
	return logger
}
