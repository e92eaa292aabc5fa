package token

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/govease-queue/internal/lock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()

	repo := NewMemoryRepository()
	svc := NewService(repo, lock.NewLocal(), quietLogger())

	ctx := context.Background()
	for _, c := range []Center{
		{ID: "C1", Name: "City Hospital", Code: "CH", Type: "hospital", Departments: []string{"OPD", "Lab"}},
		{ID: "C2", Name: "Passport Office", Code: "PO", Type: "office"},
	} {
		_, err := svc.UpsertCenter(ctx, c)
		require.NoError(t, err)
	}
	return svc, repo
}

func draft(centerID, department string) Draft {
	return Draft{
		CenterID:   centerID,
		Department: department,
		Name:       gofakeit.Name(),
		Phone:      gofakeit.Phone(),
		Purpose:    gofakeit.RandomString([]string{"checkup", "renewal", "certificate", "consultation"}),
	}
}

func TestService_Scenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	b, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	c, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, []int{a.TokenNumber, b.TokenNumber, c.TokenNumber})
	for _, tk := range []*Token{a, b, c} {
		assert.Equal(t, StatusPending, tk.Status)
	}

	approved, err := svc.ApproveToken(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	_, err = svc.ApproveToken(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	cleared, err := svc.ClearToken(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCleared, cleared.Status)
	require.NotNil(t, cleared.ClearedAt)
	assert.Equal(t, approved.ApprovedAt, cleared.ApprovedAt, "earlier timestamps are kept")

	stats, err := svc.QueueStats(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCountByDepartment["OPD"])
	assert.Equal(t, 2, stats.TotalPending)
}

func TestService_CreateToken_Snapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	by := " admin@example.com "
	d := draft("C1", "")
	d.CreatedBy = &by

	tk, err := svc.CreateToken(ctx, d)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tk.ID)
	assert.Equal(t, DefaultDepartment, tk.Department)
	assert.Equal(t, "City Hospital", tk.CenterName)
	assert.Equal(t, "CH", tk.CenterCode)
	assert.Equal(t, "hospital", tk.CenterType)
	require.NotNil(t, tk.CreatedBy)
	assert.Equal(t, "admin@example.com", *tk.CreatedBy)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.Nil(t, tk.ApprovedAt)

	_, err = svc.UpsertCenter(ctx, Center{ID: "C1", Name: "Renamed Hospital", Code: "RH"})
	require.NoError(t, err)

	got, err := svc.GetToken(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "City Hospital", got.CenterName, "snapshot is not re-synced")
	assert.Equal(t, "CH", got.CenterCode)
}

func TestService_CreateToken_ConcurrentSameScopeIsGapFree(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 64
	numbers := make(chan int, 2*n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		for _, dept := range []string{"OPD", "Lab"} {
			wg.Add(1)
			go func(dept string) {
				defer wg.Done()
				tk, err := svc.CreateToken(ctx, draft("C1", dept))
				if !assert.NoError(t, err) {
					return
				}
				if dept == "OPD" {
					numbers <- tk.TokenNumber
				}
			}(dept)
		}
	}
	wg.Wait()
	close(numbers)

	var got []int
	for v := range numbers {
		got = append(got, v)
	}
	sort.Ints(got)

	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)

	last, err := svc.LastTokenNumber(ctx, "C1", "Lab")
	require.NoError(t, err)
	assert.Equal(t, n, last)
}

func TestService_CreateToken_Validation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	d := draft("C1", "OPD")
	d.Name = "   "
	d.Phone = ""

	_, err := svc.CreateToken(ctx, d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"name", "phone"}, verr.Fields)

	last, err := repo.LastTokenNumber(ctx, Scope{CenterID: "C1", Department: "OPD"})
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestService_CreateToken_UnknownCenter(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateToken(context.Background(), draft("nope", "OPD"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrCenterNotFound))
}

func TestService_QRGate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	codes, err := svc.CreateQRCodes(ctx, "C1", 2)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	other, err := svc.CreateQRCodes(ctx, "C2", 1)
	require.NoError(t, err)

	t.Run("active code passes", func(t *testing.T) {
		d := draft("C1", "Lab")
		d.QRCode = codes[0].Code
		tk, err := svc.CreateToken(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, 1, tk.TokenNumber)
	})

	t.Run("inactive code does not allocate", func(t *testing.T) {
		q, err := svc.ToggleQR(ctx, codes[1].Code)
		require.NoError(t, err)
		require.False(t, q.Active)

		d := draft("C1", "OPD")
		d.QRCode = codes[1].Code
		_, err = svc.CreateToken(ctx, d)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrQRInactive))

		tk, err := svc.CreateToken(ctx, draft("C1", "OPD"))
		require.NoError(t, err)
		assert.Equal(t, 1, tk.TokenNumber)
	})

	t.Run("code of another center", func(t *testing.T) {
		d := draft("C1", "OPD")
		d.QRCode = other[0].Code
		_, err := svc.CreateToken(ctx, d)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrQRMismatch))

		last, err := svc.LastTokenNumber(ctx, "C1", "OPD")
		require.NoError(t, err)
		assert.Equal(t, 1, last)
	})

	t.Run("unknown code", func(t *testing.T) {
		d := draft("C1", "OPD")
		d.QRCode = "CH-00000000"
		_, err := svc.CreateToken(ctx, d)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestService_ConcurrentApproveHasOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tk, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApproveToken(ctx, tk.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidTransition):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestService_ServeNext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	opd1, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	lab1, err := svc.CreateToken(ctx, draft("C1", "Lab"))
	require.NoError(t, err)
	opd2, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	_, err = svc.CreateToken(ctx, draft("C2", "OPD"))
	require.NoError(t, err)

	_, err = svc.RejectToken(ctx, opd1.ID)
	require.NoError(t, err)

	served, err := svc.ServeNext(ctx, "C1", "")
	require.NoError(t, err)
	assert.Equal(t, lab1.ID, served.ID, "oldest pending token of the center")
	assert.Equal(t, StatusApproved, served.Status)
	require.NotNil(t, served.ApprovedAt)

	served, err = svc.ServeNext(ctx, "C1", " OPD ")
	require.NoError(t, err)
	assert.Equal(t, opd2.ID, served.ID)
	assert.Equal(t, 2, served.TokenNumber)

	_, err = svc.ServeNext(ctx, "C1", "")
	assert.True(t, errors.Is(err, ErrTokenNotFound))

	_, err = svc.ServeNext(ctx, "missing", "")
	assert.True(t, errors.Is(err, ErrCenterNotFound))

	stats, err := svc.QueueStats(ctx, "C2")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPending, "other centers are untouched")
}

func TestService_ConcurrentServeNextNeverServesTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const queued = 8
	for i := 0; i < queued; i++ {
		_, err := svc.CreateToken(ctx, draft("C1", "OPD"))
		require.NoError(t, err)
	}

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	served := make(map[uuid.UUID]int)
	empty := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := svc.ServeNext(ctx, "C1", "OPD")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				served[tk.ID]++
			case errors.Is(err, ErrTokenNotFound):
				empty++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, served, queued)
	for id, n := range served {
		assert.Equal(t, 1, n, "token %s served more than once", id)
	}
	assert.Equal(t, callers-queued, empty)

	stats, err := svc.QueueStats(ctx, "C1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalPending)
}

func TestService_UpdateStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tk, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, tk.ID, "served")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = svc.UpdateStatus(ctx, tk.ID, StatusCleared)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "pending cannot be cleared")

	rejected, err := svc.UpdateStatus(ctx, tk.ID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectedAt)

	_, err = svc.UpdateStatus(ctx, tk.ID, StatusPending)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, StatusRejected, terr.Current)
	assert.Equal(t, EventReopen, terr.Event)

	got, err := svc.GetToken(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status, "failed transition leaves the token unchanged")

	_, err = svc.UpdateStatus(ctx, uuid.New(), StatusApproved)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestService_ListTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	owner := "owner@example.com"
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		d := draft("C1", "OPD")
		if i%2 == 0 {
			d.CreatedBy = &owner
		}
		tk, err := svc.CreateToken(ctx, d)
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}
	_, err := svc.CreateToken(ctx, draft("C2", "OPD"))
	require.NoError(t, err)

	all, err := svc.ListTokens(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, ids[0], all[0].ID, "insertion order by default")

	recent, err := svc.ListTokens(ctx, Filter{CenterID: "C1", NewestFirst: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[3], recent[1].ID)

	mine, err := svc.ListTokens(ctx, Filter{CreatedBy: owner})
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	_, err = svc.ApproveToken(ctx, ids[1])
	require.NoError(t, err)
	approved, err := svc.ListTokens(ctx, Filter{Status: StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, ids[1], approved[0].ID)

	_, err = svc.ListTokens(ctx, Filter{Status: "called"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.ListTokens(ctx, Filter{Limit: -1})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestService_TokenProgress(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var tokens []*Token
	for i := 0; i < 4; i++ {
		tk, err := svc.CreateToken(ctx, draft("C1", "OPD"))
		require.NoError(t, err)
		tokens = append(tokens, tk)
	}

	p, err := svc.TokenProgress(ctx, tokens[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Position)
	assert.Equal(t, 5, p.ETAMinutes)

	p, err = svc.TokenProgress(ctx, tokens[3].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Position)
	assert.Equal(t, 18, p.ETAMinutes)

	_, err = svc.RejectToken(ctx, tokens[1].ID)
	require.NoError(t, err)

	p, err = svc.TokenProgress(ctx, tokens[3].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Position)
	assert.Equal(t, 12, p.ETAMinutes)

	p, err = svc.TokenProgress(ctx, tokens[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Token.Status)
	assert.Zero(t, p.Position)
	assert.Zero(t, p.ETAMinutes)
}

func TestService_QueueStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	b, err := svc.CreateToken(ctx, draft("C1", "Lab"))
	require.NoError(t, err)
	_, err = svc.CreateToken(ctx, draft("C1", "Lab"))
	require.NoError(t, err)
	_, err = svc.CreateToken(ctx, draft("C2", "OPD"))
	require.NoError(t, err)

	stats, err := svc.QueueStats(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"OPD": 1, "Lab": 2}, stats.PendingCountByDepartment)
	assert.Equal(t, 3, stats.TotalPending)

	_, err = svc.ApproveToken(ctx, a.ID)
	require.NoError(t, err)

	stats, err = svc.QueueStats(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Lab": 2}, stats.PendingCountByDepartment)
	assert.Equal(t, 2, stats.TotalPending)

	_, err = svc.RejectToken(ctx, b.ID)
	require.NoError(t, err)

	stats, err = svc.QueueStats(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Lab": 1}, stats.PendingCountByDepartment)
	assert.Equal(t, 1, stats.TotalPending)

	byCenter, err := svc.PendingByCenter(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"C1": 1, "C2": 1}, byCenter)

	_, err = svc.QueueStats(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestService_QRCodes(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateQRCodes(ctx, "C1", 0)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateQRCodes(ctx, "C1", MaxQRBatch+1)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = svc.CreateQRCodes(ctx, "missing", 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	codes, err := svc.CreateQRCodes(ctx, "C1", 3)
	require.NoError(t, err)

	format := regexp.MustCompile(`^CH-[0-9A-F]{8}$`)
	for _, q := range codes {
		assert.Regexp(t, format, q.Code)
		assert.True(t, q.Active)
		assert.Equal(t, "C1", q.CenterID)
	}

	listed, err := svc.ListQRCodes(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, codes, listed)

	none, err := svc.ListQRCodes(ctx, "C2")
	require.NoError(t, err)
	assert.Empty(t, none)

	q, err := svc.ToggleQR(ctx, codes[0].Code)
	require.NoError(t, err)
	assert.False(t, q.Active)
	q, err = svc.ToggleQR(ctx, codes[0].Code)
	require.NoError(t, err)
	assert.True(t, q.Active)

	resolved, err := svc.ResolveQR(ctx, " "+codes[0].Code+" ")
	require.NoError(t, err)
	assert.Equal(t, "C1", resolved.CenterID)

	_, err = svc.ToggleQR(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	var created, toggled int
	for _, ev := range repo.Events() {
		switch ev.EventType {
		case EventQRCreated:
			created++
		case EventQRToggled:
			toggled++
		}
	}
	assert.Equal(t, 3, created)
	assert.Equal(t, 2, toggled)
}

func TestService_EventLog(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tk, err := svc.CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	_, err = svc.ApproveToken(ctx, tk.ID)
	require.NoError(t, err)

	events := repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTokenCreated, events[0].EventType)
	assert.Equal(t, EventTokenApproved, events[1].EventType)
	require.NotNil(t, events[1].TokenID)
	assert.Equal(t, tk.ID, *events[1].TokenID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, "pending", payload["from"])
	assert.Equal(t, "approved", payload["to"])
}

func TestService_UpsertCenter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertCenter(ctx, Center{Name: "No id"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"id"}, verr.Fields)

	c, err := svc.UpsertCenter(ctx, Center{ID: " C3 ", Name: " Tax Office ", Departments: []string{"A", " A", "", "B"}})
	require.NoError(t, err)
	assert.Equal(t, "C3", c.ID)
	assert.Equal(t, "Tax Office", c.Name)
	assert.Equal(t, []string{"A", "B"}, c.Departments)

	centers, err := svc.ListCenters(ctx)
	require.NoError(t, err)
	require.Len(t, centers, 3)
	assert.Equal(t, "C1", centers[0].ID)
}

// failingRepo fails every token insert before it reaches the store.
type failingRepo struct {
	*MemoryRepository
}

func (r failingRepo) CreateToken(ctx context.Context, nt NewToken) (*Token, error) {
	return nil, storageErr("create token", errors.New("connection refused"))
}

func TestService_StorageFailureDoesNotAllocate(t *testing.T) {
	mem := NewMemoryRepository()
	_, err := mem.UpsertCenter(context.Background(), Center{ID: "C1", Name: "City Hospital"})
	require.NoError(t, err)

	ctx := context.Background()
	svc := NewService(failingRepo{mem}, nil, quietLogger())

	_, err = svc.CreateToken(ctx, draft("C1", "OPD"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))

	last, err := svc.LastTokenNumber(ctx, "C1", "OPD")
	require.NoError(t, err)
	assert.Zero(t, last)

	tk, err := NewService(mem, nil, quietLogger()).CreateToken(ctx, draft("C1", "OPD"))
	require.NoError(t, err)
	assert.Equal(t, 1, tk.TokenNumber)
}

type refusingLocker struct{}

func (refusingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	return lock.ErrLockNotAcquired
}

func TestService_LockFailureIsStorageUnavailable(t *testing.T) {
	mem := NewMemoryRepository()
	ctx := context.Background()
	_, err := mem.UpsertCenter(ctx, Center{ID: "C1", Name: "City Hospital"})
	require.NoError(t, err)

	svc := NewService(mem, refusingLocker{}, quietLogger())
	_, err = svc.CreateToken(ctx, draft("C1", "OPD"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.True(t, errors.Is(err, lock.ErrLockNotAcquired))
}
