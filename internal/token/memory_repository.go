package token

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. It is used by tests
// and by single instance deployments that do not need durability.
type MemoryRepository struct {
	mu      sync.RWMutex
	centers map[string]Center
	tokens  []*Token
	byID    map[uuid.UUID]*Token
	qrs     map[string]*QRCode
	qrOrder []string
	events  []EventLog

	countersMu sync.Mutex
	counters   map[Scope]*counter
}

type counter struct {
	mu   sync.Mutex
	last int
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		centers:  make(map[string]Center),
		byID:     make(map[uuid.UUID]*Token),
		qrs:      make(map[string]*QRCode),
		counters: make(map[Scope]*counter),
	}
}

func (r *MemoryRepository) GetCenter(ctx context.Context, id string) (*Center, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.centers[id]
	if !ok {
		return nil, ErrCenterNotFound
	}
	c.Departments = append([]string(nil), c.Departments...)
	return &c, nil
}

func (r *MemoryRepository) ListCenters(ctx context.Context) ([]Center, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Center, 0, len(r.centers))
	for _, c := range r.centers {
		c.Departments = append([]string(nil), c.Departments...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) UpsertCenter(ctx context.Context, c Center) (*Center, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.centers[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Departments = append([]string(nil), c.Departments...)
	r.centers[c.ID] = c

	out := c
	return &out, nil
}

func (r *MemoryRepository) scopeCounter(s Scope) *counter {
	r.countersMu.Lock()
	defer r.countersMu.Unlock()

	c, ok := r.counters[s]
	if !ok {
		c = &counter{}
		r.counters[s] = c
	}
	return c
}

// allocateTokenNumber runs insert with the next number of the scope while the
// scope is held. The counter only moves when insert succeeds.
func (r *MemoryRepository) allocateTokenNumber(s Scope, insert func(n int) error) error {
	c := r.scopeCounter(s)
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.last + 1
	if err := insert(next); err != nil {
		return err
	}
	c.last = next
	return nil
}

func (r *MemoryRepository) CreateToken(ctx context.Context, nt NewToken) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("create token", err)
	}

	t := &Token{
		ID:         nt.ID,
		CenterID:   nt.Center.ID,
		CenterName: nt.Center.Name,
		CenterCode: nt.Center.Code,
		CenterType: nt.Center.Type,
		Department: nt.Draft.Department,
		UserName:   nt.Draft.Name,
		UserPhone:  nt.Draft.Phone,
		Purpose:    nt.Draft.Purpose,
		CreatedBy:  copyString(nt.Draft.CreatedBy),
		Status:     StatusPending,
		CreatedAt:  nt.CreatedAt,
	}

	err := r.allocateTokenNumber(t.Scope(), func(n int) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if _, exists := r.byID[t.ID]; exists {
			return storageErr("create token", errDuplicateID)
		}
		t.TokenNumber = n
		r.tokens = append(r.tokens, t)
		r.byID[t.ID] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := cloneToken(*t)
	return &out, nil
}

func (r *MemoryRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	out := cloneToken(*t)
	return &out, nil
}

func (r *MemoryRepository) ListTokens(ctx context.Context, f Filter) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Token, 0)
	for _, t := range r.tokens {
		if matches(*t, f) {
			out = append(out, cloneToken(*t))
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.Status != from {
		return nil, ErrTokenNotFound
	}
	t.Status = to
	stamp(t, to, at)

	out := cloneToken(*t)
	return &out, nil
}

func (r *MemoryRepository) LastTokenNumber(ctx context.Context, scope Scope) (int, error) {
	r.countersMu.Lock()
	c, ok := r.counters[scope]
	r.countersMu.Unlock()
	if !ok {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, nil
}

func (r *MemoryRepository) GetQRCode(ctx context.Context, code string) (*QRCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.qrs[code]
	if !ok {
		return nil, ErrQRCodeNotFound
	}
	out := *q
	return &out, nil
}

func (r *MemoryRepository) CreateQRCodes(ctx context.Context, codes []QRCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, q := range codes {
		if _, exists := r.qrs[q.Code]; exists {
			return storageErr("create qr codes", errDuplicateCode)
		}
	}
	for _, q := range codes {
		q := q
		r.qrs[q.Code] = &q
		r.qrOrder = append(r.qrOrder, q.Code)
	}
	return nil
}

func (r *MemoryRepository) ListQRCodes(ctx context.Context, centerID string) ([]QRCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]QRCode, 0)
	for _, code := range r.qrOrder {
		q := r.qrs[code]
		if centerID == "" || q.CenterID == centerID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ToggleQRCode(ctx context.Context, code string, at time.Time) (*QRCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.qrs[code]
	if !ok {
		return nil, ErrQRCodeNotFound
	}
	q.Active = !q.Active
	q.UpdatedAt = at

	out := *q
	return &out, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func matches(t Token, f Filter) bool {
	if f.CenterID != "" && t.CenterID != f.CenterID {
		return false
	}
	if f.Department != "" && t.Department != f.Department {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && (t.CreatedBy == nil || *t.CreatedBy != f.CreatedBy) {
		return false
	}
	return true
}

// stamp sets the timestamp that belongs to status s.
func stamp(t *Token, s Status, at time.Time) {
	at = at.UTC()
	switch s {
	case StatusApproved:
		t.ApprovedAt = &at
	case StatusRejected:
		t.RejectedAt = &at
	case StatusCleared:
		t.ClearedAt = &at
	}
}

func cloneToken(t Token) Token {
	t.CreatedBy = copyString(t.CreatedBy)
	t.ApprovedAt = copyTime(t.ApprovedAt)
	t.RejectedAt = copyTime(t.RejectedAt)
	t.ClearedAt = copyTime(t.ClearedAt)
	return t
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
