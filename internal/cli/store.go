package cli

import (
	"context"
	"errors"
	"io"

	"github.com/hackgods/govease-queue/internal/app"
	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/logger"
	"github.com/hackgods/govease-queue/internal/token"
)

// ErrEphemeralStore is returned for the memory backend: each queuectl run
// would start from an empty store.
var ErrEphemeralStore = errors.New("queuectl needs a persistent store, set STORE_BACKEND to postgres or sqlite")

// StoreOpener opens the store described by the configuration load returns.
// Logs go to logs, stdout is reserved for command output.
func StoreOpener(load func() (config.Config, error), logs io.Writer) Opener {
	return func(ctx context.Context) (*token.Service, func(), error) {
		cfg, err := load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.StoreBackend == config.BackendMemory {
			return nil, nil, ErrEphemeralStore
		}

		level := cfg.LogLevel
		if level == "" {
			level = "warn"
		}
		log := logger.New(logs, cfg.Env, level)

		a, err := app.Open(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return a.Service, a.Close, nil
	}
}
