package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/govease-queue/internal/lock"
	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/validate"
)

const (
	EventTokenCreated  = "TOKEN_CREATED"
	EventTokenApproved = "TOKEN_APPROVED"
	EventTokenRejected = "TOKEN_REJECTED"
	EventTokenCleared  = "TOKEN_CLEARED"
	EventQRCreated     = "QR_CREATED"
	EventQRToggled     = "QR_TOGGLED"
)

// EventReopen is never accepted; it names requests that try to move a token
// back to pending.
const EventReopen Event = "reopen"

// MaxQRBatch bounds CreateQRCodes.
const MaxQRBatch = 100

type Service struct {
	repo   Repository
	locker lock.Locker
	log    *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker lock.Locker, log *slog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log.With(sl.Module("token.service")),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// CreateToken books the next token for the draft's center and department.
// A QR code in the draft must belong to that center and be active. The scope
// lock makes the gate check and the number allocation one critical section.
func (s *Service) CreateToken(ctx context.Context, d Draft) (*Token, error) {
	d = normalizeDraft(d)
	if err := validateStruct(d); err != nil {
		return nil, err
	}

	center, err := s.repo.GetCenter(ctx, d.CenterID)
	if err != nil {
		return nil, fmt.Errorf("load center: %w", err)
	}

	scope := Scope{CenterID: center.ID, Department: d.Department}

	var created *Token
	var fnErr error

	err = s.locker.WithLock(ctx, scope.LockKey(), func(lockCtx context.Context) error {
		if d.QRCode != "" {
			if fnErr = s.checkQRGate(lockCtx, d.QRCode, center.ID); fnErr != nil {
				return fnErr
			}
		}

		created, fnErr = s.repo.CreateToken(lockCtx, NewToken{
			ID:        uuid.New(),
			Center:    *center,
			Draft:     d,
			CreatedAt: s.now(),
		})
		if fnErr != nil {
			return fnErr
		}

		s.logEvent(lockCtx, &created.ID, EventTokenCreated, map[string]any{
			"center_id":    created.CenterID,
			"department":   created.Department,
			"token_number": created.TokenNumber,
			"qr_code":      d.QRCode,
		})
		return nil
	})
	if err != nil {
		if fnErr == nil {
			return nil, storageErr("acquire scope lock", err)
		}
		return nil, fmt.Errorf("create token: %w", err)
	}

	s.log.Debug("token created",
		slog.String("token_id", created.ID.String()),
		slog.String("center_id", created.CenterID),
		slog.String("department", created.Department),
		slog.Int("token_number", created.TokenNumber),
		sl.Secret("phone", created.UserPhone),
	)

	return created, nil
}

func (s *Service) checkQRGate(ctx context.Context, code, centerID string) error {
	q, err := s.repo.GetQRCode(ctx, code)
	if err != nil {
		return fmt.Errorf("resolve qr code: %w", err)
	}
	if q.CenterID != centerID {
		return ErrQRMismatch
	}
	if !q.Active {
		return ErrQRInactive
	}
	return nil
}

// GetToken retrieves one token by id.
func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	t, err := s.repo.GetToken(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// ListTokens returns matching tokens in creation order, or newest first when
// the filter asks for it. Limit applies after ordering.
func (s *Service) ListTokens(ctx context.Context, f Filter) ([]Token, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Fields: []string{"status"}, Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	if f.Limit < 0 {
		return nil, &ValidationError{Fields: []string{"limit"}, Reason: "limit must not be negative"}
	}

	tokens, err := s.repo.ListTokens(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return window(tokens, f), nil
}

func (s *Service) ApproveToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.apply(ctx, id, EventApprove)
}

func (s *Service) RejectToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.apply(ctx, id, EventReject)
}

func (s *Service) ClearToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return s.apply(ctx, id, EventClear)
}

// ServeNext approves the oldest pending token of a center, or of one of its
// departments when department is set. A token approved concurrently by
// someone else is skipped. ErrTokenNotFound means the queue is empty.
func (s *Service) ServeNext(ctx context.Context, centerID, department string) (*Token, error) {
	if _, err := s.repo.GetCenter(ctx, centerID); err != nil {
		return nil, fmt.Errorf("load center: %w", err)
	}

	pending, err := s.repo.ListTokens(ctx, Filter{
		CenterID:   centerID,
		Department: strings.TrimSpace(department),
		Status:     StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending tokens: %w", err)
	}

	for _, t := range pending {
		served, err := s.apply(ctx, t.ID, EventApprove)
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		return served, err
	}
	return nil, fmt.Errorf("serve next in %s: %w", centerID, ErrTokenNotFound)
}

// UpdateStatus moves a token to target if the lifecycle allows it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target Status) (*Token, error) {
	if !target.Valid() {
		return nil, &ValidationError{Fields: []string{"status"}, Reason: fmt.Sprintf("unknown status %q", target)}
	}
	ev, ok := EventFor(target)
	if !ok {
		current, err := s.GetToken(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &TransitionError{Current: current.Status, Event: EventReopen}
	}
	return s.apply(ctx, id, ev)
}

// apply reads the token, checks the event against the lifecycle and writes
// the new status only if the token still has the status that was checked.
func (s *Service) apply(ctx context.Context, id uuid.UUID, ev Event) (*Token, error) {
	current, err := s.repo.GetToken(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	next, err := Next(current.Status, ev)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateTokenStatus(ctx, id, current.Status, next, s.now())
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			return nil, fmt.Errorf("%s token: %w", ev, err)
		}
		// another request changed the status between the read and the write
		latest, getErr := s.repo.GetToken(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("reload token: %w", getErr)
		}
		return nil, &TransitionError{Current: latest.Status, Event: ev}
	}

	s.logEvent(ctx, &updated.ID, eventType(ev), map[string]any{
		"from": current.Status,
		"to":   updated.Status,
	})

	return updated, nil
}

// QueueStats counts the pending tokens of a center per department.
func (s *Service) QueueStats(ctx context.Context, centerID string) (QueueStats, error) {
	if _, err := s.repo.GetCenter(ctx, centerID); err != nil {
		return QueueStats{}, fmt.Errorf("load center: %w", err)
	}

	pending, err := s.repo.ListTokens(ctx, Filter{CenterID: centerID, Status: StatusPending})
	if err != nil {
		return QueueStats{}, fmt.Errorf("list pending tokens: %w", err)
	}
	return Stats(pending, centerID), nil
}

// PendingByCenter counts pending tokens across all centers.
func (s *Service) PendingByCenter(ctx context.Context) (map[string]int, error) {
	pending, err := s.repo.ListTokens(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending tokens: %w", err)
	}
	return PendingCountByCenter(pending), nil
}

// TokenProgress reports how many pending tokens are ahead of a token and the
// resulting wait. Tokens that are no longer pending have no position.
func (s *Service) TokenProgress(ctx context.Context, id uuid.UUID) (Progress, error) {
	t, err := s.GetToken(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	if t.Status != StatusPending {
		return Progress{Token: *t}, nil
	}

	pending, err := s.repo.ListTokens(ctx, Filter{
		CenterID:   t.CenterID,
		Department: t.Department,
		Status:     StatusPending,
	})
	if err != nil {
		return Progress{}, fmt.Errorf("list pending tokens: %w", err)
	}

	pos := Position(pending, *t)
	return Progress{
		Token:      *t,
		Position:   pos,
		ETAMinutes: EstimatedWaitMinutes(pos),
	}, nil
}

// LastTokenNumber is the last number issued in a scope.
func (s *Service) LastTokenNumber(ctx context.Context, centerID, department string) (int, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		department = DefaultDepartment
	}
	n, err := s.repo.LastTokenNumber(ctx, Scope{CenterID: centerID, Department: department})
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return n, nil
}

// ResolveQR looks a QR code up.
func (s *Service) ResolveQR(ctx context.Context, code string) (*QRCode, error) {
	q, err := s.repo.GetQRCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("resolve qr code: %w", err)
	}
	return q, nil
}

// CreateQRCodes issues count new active codes for a center.
func (s *Service) CreateQRCodes(ctx context.Context, centerID string, count int) ([]QRCode, error) {
	if count < 1 || count > MaxQRBatch {
		return nil, &ValidationError{Fields: []string{"count"}, Reason: fmt.Sprintf("count must be between 1 and %d", MaxQRBatch)}
	}

	center, err := s.repo.GetCenter(ctx, centerID)
	if err != nil {
		return nil, fmt.Errorf("load center: %w", err)
	}

	prefix := strings.ToUpper(center.Code)
	if prefix == "" {
		prefix = strings.ToUpper(center.ID)
	}

	now := s.now()
	codes := make([]QRCode, 0, count)
	for i := 0; i < count; i++ {
		codes = append(codes, QRCode{
			Code:      fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8])),
			CenterID:  center.ID,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.repo.CreateQRCodes(ctx, codes); err != nil {
		return nil, fmt.Errorf("create qr codes: %w", err)
	}

	for _, q := range codes {
		s.logEvent(ctx, nil, EventQRCreated, map[string]any{
			"code":      q.Code,
			"center_id": q.CenterID,
		})
	}

	return codes, nil
}

func (s *Service) ListQRCodes(ctx context.Context, centerID string) ([]QRCode, error) {
	codes, err := s.repo.ListQRCodes(ctx, centerID)
	if err != nil {
		return nil, fmt.Errorf("list qr codes: %w", err)
	}
	return codes, nil
}

// ToggleQR flips a code between active and inactive.
func (s *Service) ToggleQR(ctx context.Context, code string) (*QRCode, error) {
	q, err := s.repo.ToggleQRCode(ctx, strings.TrimSpace(code), s.now())
	if err != nil {
		return nil, fmt.Errorf("toggle qr code: %w", err)
	}

	s.logEvent(ctx, nil, EventQRToggled, map[string]any{
		"code":   q.Code,
		"active": q.Active,
	})
	return q, nil
}

func (s *Service) ListCenters(ctx context.Context) ([]Center, error) {
	centers, err := s.repo.ListCenters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	return centers, nil
}

func (s *Service) GetCenter(ctx context.Context, id string) (*Center, error) {
	c, err := s.repo.GetCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get center: %w", err)
	}
	return c, nil
}

// UpsertCenter creates or replaces a center. Tokens already issued keep the
// center details they were created with.
func (s *Service) UpsertCenter(ctx context.Context, c Center) (*Center, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.Code = strings.TrimSpace(c.Code)
	c.Type = strings.TrimSpace(c.Type)
	c.Departments = normalizeDepartments(c.Departments)

	var fields []string
	if c.ID == "" {
		fields = append(fields, "id")
	}
	if c.Name == "" {
		fields = append(fields, "name")
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	out, err := s.repo.UpsertCenter(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("upsert center: %w", err)
	}
	return out, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, tokenID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal event payload", slog.String("event", eventType), sl.Err(err))
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		TokenID:   tokenID,
		Payload:   data,
		CreatedAt: s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("insert event log", slog.String("event", eventType), sl.Err(err))
	}
}

func normalizeDraft(d Draft) Draft {
	d.CenterID = strings.TrimSpace(d.CenterID)
	d.Department = strings.TrimSpace(d.Department)
	if d.Department == "" {
		d.Department = DefaultDepartment
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Purpose = strings.TrimSpace(d.Purpose)
	d.QRCode = strings.TrimSpace(d.QRCode)
	if d.CreatedBy != nil {
		by := strings.TrimSpace(*d.CreatedBy)
		if by == "" {
			d.CreatedBy = nil
		} else {
			d.CreatedBy = &by
		}
	}
	return d
}

func normalizeDepartments(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validate.Errors
	if errors.As(err, &verrs) {
		return &ValidationError{Fields: verrs.Fields(), Reason: verrs.Error()}
	}
	return &ValidationError{Reason: err.Error()}
}

func window(tokens []Token, f Filter) []Token {
	if f.NewestFirst {
		for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
			tokens[i], tokens[j] = tokens[j], tokens[i]
		}
	}
	if f.Limit > 0 && len(tokens) > f.Limit {
		tokens = tokens[:f.Limit]
	}
	return tokens
}
