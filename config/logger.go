package config

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var loggerOnce sync.Once

// InitLogger configures the global zerolog logger. Only the first call has an effect.
func InitLogger(cfg LogConfig) {
	loggerOnce.Do(func() {
		level, err := zerolog.ParseLevel(cfg.Level)
		if err != nil || cfg.Level == "" {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339Nano
		if cfg.Pretty {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		}
		log.Debug().Str("level", level.String()).Msg("[Config] [InitLogger] logger initialized")
	})
}
