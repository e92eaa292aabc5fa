package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/token"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreBackend: config.BackendSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "queue.db"),
	}

	a, err := Open(ctx, cfg, quiet())
	require.NoError(t, err)

	_, err = a.Service.UpsertCenter(ctx, token.Center{ID: "C1", Name: "City Hospital"})
	require.NoError(t, err)
	tk, err := a.Service.CreateToken(ctx, token.Draft{CenterID: "C1", Name: "A", Phone: "1", Purpose: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1, tk.TokenNumber)
	assert.Nil(t, a.Redis)
	a.Close()

	// the file keeps the counter across restarts
	a, err = Open(ctx, cfg, quiet())
	require.NoError(t, err)
	defer a.Close()

	tk, err = a.Service.CreateToken(ctx, token.Draft{CenterID: "C1", Name: "B", Phone: "2", Purpose: "p"})
	require.NoError(t, err)
	assert.Equal(t, 2, tk.TokenNumber)
}

func TestOpen_Memory(t *testing.T) {
	a, err := Open(context.Background(), config.Config{StoreBackend: config.BackendMemory}, quiet())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Service.Ping(context.Background()))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreBackend: "mongo"}, quiet())
	assert.Error(t, err)
}
