package injector

import (
	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/observability/log"
)

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(cfg.Log)
}
