package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/lock"
	"github.com/hackgods/govease-queue/internal/token"
)

const testCatalog = `centers:
  - id: C1
    name: City Hospital
    code: CH
    type: hospital
    departments: [OPD, Lab]
  - id: C2
    name: Passport Office
    code: PO
    type: passport
    departments: [Applications]
`

func newTestService(t *testing.T) *token.Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return token.NewService(token.NewMemoryRepository(), lock.NewLocal(), log)
}

func run(t *testing.T, svc *token.Service, args ...string) (string, string, error) {
	t.Helper()
	open := func(context.Context) (*token.Service, func(), error) {
		return svc, func() {}, nil
	}
	return runWith(t, open, args...)
}

func runWith(t *testing.T, open Opener, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand(open)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func importCatalog(t *testing.T, svc *token.Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "centers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	out, _, err := run(t, svc, "centers", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 centers")
}

func decode(t *testing.T, out string, data any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, path := range [][]string{
		{"centers", "import"}, {"centers", "list"},
		{"qr", "create"}, {"qr", "list"}, {"qr", "toggle"}, {"qr", "resolve"},
		{"tokens", "list"}, {"tokens", "next"}, {"tokens", "approve"}, {"tokens", "reject"}, {"tokens", "clear"},
		{"stats"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := run(t, newTestService(t), "--format", "xml", "centers", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCentersImportAndList(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)

	out, _, err := run(t, svc, "--format", "json", "centers", "list")
	require.NoError(t, err)

	var centers []token.Center
	decode(t, out, &centers)
	require.Len(t, centers, 2)
	assert.Equal(t, "C1", centers[0].ID)
	assert.Equal(t, []string{"OPD", "Lab"}, centers[0].Departments)

	out, _, err = run(t, svc, "centers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "City Hospital")
	assert.Contains(t, out, "OPD,Lab")
}

func TestCentersImportMissingFile(t *testing.T) {
	_, _, err := run(t, newTestService(t), "centers", "import", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQRCommands(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)

	out, _, err := run(t, svc, "--format", "json", "qr", "create", "--center", "C1", "-n", "2")
	require.NoError(t, err)
	var codes []token.QRCode
	decode(t, out, &codes)
	require.Len(t, codes, 2)
	assert.True(t, codes[0].Active)

	out, _, err = run(t, svc, "--format", "json", "qr", "toggle", codes[0].Code)
	require.NoError(t, err)
	var toggled token.QRCode
	decode(t, out, &toggled)
	assert.False(t, toggled.Active)

	out, _, err = run(t, svc, "qr", "resolve", codes[1].Code)
	require.NoError(t, err)
	assert.Contains(t, out, codes[1].Code)
	assert.Contains(t, out, "C1")

	out, _, err = run(t, svc, "--format", "json", "qr", "list", "--center", "C2")
	require.NoError(t, err)
	var none []token.QRCode
	decode(t, out, &none)
	assert.Empty(t, none)

	_, _, err = run(t, svc, "qr", "create", "--center", "C9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTokensLifecycle(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)
	ctx := context.Background()

	first, err := svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: "OPD", Name: "Asha", Phone: "555", Purpose: "checkup"})
	require.NoError(t, err)
	_, err = svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: "OPD", Name: "Ravi", Phone: "556", Purpose: "checkup"})
	require.NoError(t, err)

	out, _, err := run(t, svc, "--format", "json", "tokens", "approve", first.ID.String())
	require.NoError(t, err)
	var approved token.Token
	decode(t, out, &approved)
	assert.Equal(t, token.StatusApproved, approved.Status)

	out, _, err = run(t, svc, "--format", "json", "tokens", "reject", first.ID.String())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"invalid_transition"`)

	_, _, err = run(t, svc, "tokens", "clear", first.ID.String())
	require.NoError(t, err)

	out, _, err = run(t, svc, "--format", "json", "tokens", "list", "--center", "C1", "--status", "pending")
	require.NoError(t, err)
	var pending []token.Token
	decode(t, out, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].TokenNumber)

	out, _, err = run(t, svc, "tokens", "list", "--newest", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Ravi")
	assert.NotContains(t, out, "Asha")

	_, _, err = run(t, svc, "tokens", "approve", "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStats(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)
	ctx := context.Background()

	for _, dept := range []string{"OPD", "OPD", "Lab"} {
		_, err := svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: dept, Name: "Visitor", Phone: "555", Purpose: "visit"})
		require.NoError(t, err)
	}

	out, _, err := run(t, svc, "--format", "json", "stats", "C1")
	require.NoError(t, err)
	var stats token.QueueStats
	decode(t, out, &stats)
	assert.Equal(t, 3, stats.TotalPending)
	assert.Equal(t, map[string]int{"OPD": 2, "Lab": 1}, stats.PendingCountByDepartment)

	out, _, err = run(t, svc, "stats", "C1")
	require.NoError(t, err)
	assert.Contains(t, out, "OPD")
	assert.Contains(t, out, "12")

	_, stderr, err := run(t, svc, "stats", "C9")
	require.Error(t, err)
	assert.Contains(t, stderr, "not_found")
}

func TestTokensNext(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)
	ctx := context.Background()

	lab, err := svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: "Lab", Name: "Asha", Phone: "555", Purpose: "blood test"})
	require.NoError(t, err)
	opd, err := svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: "OPD", Name: "Ravi", Phone: "556", Purpose: "checkup"})
	require.NoError(t, err)

	out, _, err := run(t, svc, "--format", "json", "tokens", "next", "--center", "C1", "--department", "OPD")
	require.NoError(t, err)
	var served token.Token
	decode(t, out, &served)
	assert.Equal(t, opd.ID, served.ID)
	assert.Equal(t, token.StatusApproved, served.Status)

	out, _, err = run(t, svc, "tokens", "next", "--center", "C1")
	require.NoError(t, err)
	assert.Contains(t, out, lab.ID.String())
	assert.Contains(t, out, "OPEN")

	_, stderr, err := run(t, svc, "tokens", "next", "--center", "C1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "not_found")

	_, _, err = run(t, svc, "tokens", "next")
	require.Error(t, err, "--center is required")
}

func TestTokensListShowsOpenColumn(t *testing.T) {
	svc := newTestService(t)
	importCatalog(t, svc)
	ctx := context.Background()

	tk, err := svc.CreateToken(ctx, token.Draft{CenterID: "C1", Department: "OPD", Name: "Asha", Phone: "555", Purpose: "checkup"})
	require.NoError(t, err)

	out, _, err := run(t, svc, "tokens", "list")
	require.NoError(t, err)
	assert.Regexp(t, `pending\s+yes`, out)

	_, err = svc.ApproveToken(ctx, tk.ID)
	require.NoError(t, err)
	_, err = svc.ClearToken(ctx, tk.ID)
	require.NoError(t, err)

	out, _, err = run(t, svc, "tokens", "list")
	require.NoError(t, err)
	assert.Regexp(t, `cleared\s+no`, out)
}

func TestStoreOpenerRefusesMemoryBackend(t *testing.T) {
	load := func() (config.Config, error) {
		return config.Config{Env: "test", StoreBackend: config.BackendMemory}, nil
	}

	_, _, err := runWith(t, StoreOpener(load, io.Discard), "centers", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, ErrEphemeralStore)
}

func TestStoreOpenerPersistsAcrossRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	load := func() (config.Config, error) {
		return config.Config{Env: "test", StoreBackend: config.BackendSQLite, SQLitePath: dbPath}, nil
	}
	open := StoreOpener(load, io.Discard)

	path := filepath.Join(t.TempDir(), "centers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	_, _, err := runWith(t, open, "centers", "import", path)
	require.NoError(t, err)

	out, _, err := runWith(t, open, "--format", "json", "centers", "list")
	require.NoError(t, err)
	var centers []token.Center
	decode(t, out, &centers)
	assert.Len(t, centers, 2)
}
