package observability

import (
	"os"
	"time"

	"github.com/danmuck/n8nctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the logger for app and installs it as the
// package-level zerolog logger.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	var ctx zerolog.Context
	if cfg.JSON {
		ctx = zerolog.New(out).Level(cfg.Level).With()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
		if !cfg.Timestamp {
			output.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		ctx = zerolog.New(output).Level(cfg.Level).With()
	}
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", app).Logger()
	log.Logger = logger
	return logger
}
