//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/server"
)

func InitializeServer(configPath string) (*server.Server, error) {
	wire.Build(
		config.Load,
		ProvideLogger,
		wire.Bind(new(log.Log), new(*log.Logger)),
		server.New,
	)
	return nil, nil
}
