package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const pgTokenColumns = `id, center_id, center_name, center_code, center_type, department, token_number,
	user_name, user_phone, purpose, created_by, status, created_at, approved_at, rejected_at, cleared_at`

const pgCenterColumns = `id, name, code, type, address, departments, created_at, updated_at`

const pgQRColumns = `code, center_id, active, created_at, updated_at`

// Helpers

func scanPgToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(
		&t.ID,
		&t.CenterID,
		&t.CenterName,
		&t.CenterCode,
		&t.CenterType,
		&t.Department,
		&t.TokenNumber,
		&t.UserName,
		&t.UserPhone,
		&t.Purpose,
		&t.CreatedBy,
		&t.Status,
		&t.CreatedAt,
		&t.ApprovedAt,
		&t.RejectedAt,
		&t.ClearedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, storageErr("scan token", err)
	}
	normalizeTimes(&t)
	return &t, nil
}

func scanPgCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Code,
		&c.Type,
		&c.Address,
		&c.Departments,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, storageErr("scan center", err)
	}
	if c.Departments == nil {
		c.Departments = []string{}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanPgQR(row pgx.Row) (*QRCode, error) {
	var q QRCode
	err := row.Scan(&q.Code, &q.CenterID, &q.Active, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQRCodeNotFound
		}
		return nil, storageErr("scan qr code", err)
	}
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return &q, nil
}

// Centers

func (r *PgRepository) GetCenter(ctx context.Context, id string) (*Center, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pgCenterColumns+`
		FROM centers
		WHERE id = $1
	`, id)
	return scanPgCenter(row)
}

func (r *PgRepository) ListCenters(ctx context.Context) ([]Center, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pgCenterColumns+`
		FROM centers
		ORDER BY id
	`)
	if err != nil {
		return nil, storageErr("list centers", err)
	}
	defer rows.Close()

	result := make([]Center, 0)
	for rows.Next() {
		c, err := scanPgCenter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list centers", err)
	}
	return result, nil
}

func (r *PgRepository) UpsertCenter(ctx context.Context, c Center) (*Center, error) {
	if c.Departments == nil {
		c.Departments = []string{}
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO centers (id, name, code, type, address, departments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    code = EXCLUDED.code,
		    type = EXCLUDED.type,
		    address = EXCLUDED.address,
		    departments = EXCLUDED.departments,
		    updated_at = now()
		RETURNING `+pgCenterColumns,
		c.ID, c.Name, c.Code, c.Type, c.Address, c.Departments)
	return scanPgCenter(row)
}

// Tokens

// allocateTokenNumber bumps the scope counter inside tx. The row lock taken by
// the upsert serializes concurrent allocations for the same scope until tx ends.
func allocateTokenNumber(ctx context.Context, tx pgx.Tx, s Scope) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO token_counters (center_id, department, last_number, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (center_id, department)
		DO UPDATE SET last_number = token_counters.last_number + 1,
		              updated_at = now()
		RETURNING last_number
	`, s.CenterID, s.Department)
	if err := row.Scan(&next); err != nil {
		return 0, storageErr("allocate token number", err)
	}
	return next, nil
}

func (r *PgRepository) CreateToken(ctx context.Context, nt NewToken) (*Token, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin create token", err)
	}
	defer tx.Rollback(ctx)

	scope := Scope{CenterID: nt.Center.ID, Department: nt.Draft.Department}
	number, err := allocateTokenNumber(ctx, tx, scope)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (
			id, center_id, center_name, center_code, center_type, department, token_number,
			user_name, user_phone, purpose, created_by, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12)
		RETURNING `+pgTokenColumns,
		nt.ID, nt.Center.ID, nt.Center.Name, nt.Center.Code, nt.Center.Type, scope.Department, number,
		nt.Draft.Name, nt.Draft.Phone, nt.Draft.Purpose, nt.Draft.CreatedBy, nt.CreatedAt)

	t, err := scanPgToken(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit create token", err)
	}
	return t, nil
}

func (r *PgRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pgTokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanPgToken(row)
}

func (r *PgRepository) ListTokens(ctx context.Context, f Filter) ([]Token, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CenterID != "" {
		add("center_id = $%d", f.CenterID)
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}

	query := `SELECT ` + pgTokenColumns + ` FROM tokens`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list tokens", err)
	}
	defer rows.Close()

	result := make([]Token, 0)
	for rows.Next() {
		t, err := scanPgToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tokens", err)
	}
	return result, nil
}

func (r *PgRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error) {
	column, err := timestampColumn(to)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE tokens
		SET status = $2,
		    `+column+` = $4
		WHERE id = $1
		  AND status = $3
		RETURNING `+pgTokenColumns,
		id, string(to), string(from), at)

	return scanPgToken(row)
}

func (r *PgRepository) LastTokenNumber(ctx context.Context, s Scope) (int, error) {
	var last int
	err := r.pool.QueryRow(ctx, `
		SELECT last_number
		FROM token_counters
		WHERE center_id = $1 AND department = $2
	`, s.CenterID, s.Department).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, storageErr("read counter", err)
	}
	return last, nil
}

// QR codes

func (r *PgRepository) GetQRCode(ctx context.Context, code string) (*QRCode, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+pgQRColumns+`
		FROM qr_codes
		WHERE code = $1
	`, code)
	return scanPgQR(row)
}

func (r *PgRepository) CreateQRCodes(ctx context.Context, codes []QRCode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin create qr codes", err)
	}
	defer tx.Rollback(ctx)

	for _, q := range codes {
		_, err := tx.Exec(ctx, `
			INSERT INTO qr_codes (code, center_id, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, q.Code, q.CenterID, q.Active, q.CreatedAt, q.UpdatedAt)
		if err != nil {
			return storageErr("insert qr code", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit create qr codes", err)
	}
	return nil
}

func (r *PgRepository) ListQRCodes(ctx context.Context, centerID string) ([]QRCode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pgQRColumns+`
		FROM qr_codes
		WHERE $1 = '' OR center_id = $1
		ORDER BY seq
	`, centerID)
	if err != nil {
		return nil, storageErr("list qr codes", err)
	}
	defer rows.Close()

	result := make([]QRCode, 0)
	for rows.Next() {
		q, err := scanPgQR(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list qr codes", err)
	}
	return result, nil
}

func (r *PgRepository) ToggleQRCode(ctx context.Context, code string, at time.Time) (*QRCode, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE qr_codes
		SET active = NOT active,
		    updated_at = $2
		WHERE code = $1
		RETURNING `+pgQRColumns,
		code, at)
	return scanPgQR(row)
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO token_events (event_type, token_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.TokenID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return storageErr("insert event log", err)
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func timestampColumn(s Status) (string, error) {
	switch s {
	case StatusApproved:
		return "approved_at", nil
	case StatusRejected:
		return "rejected_at", nil
	case StatusCleared:
		return "cleared_at", nil
	}
	return "", fmt.Errorf("no timestamp column for status %q", s)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// normalizeTimes keeps every timestamp in UTC regardless of the driver's zone.
func normalizeTimes(t *Token) {
	t.CreatedAt = t.CreatedAt.UTC()
	for _, p := range []**time.Time{&t.ApprovedAt, &t.RejectedAt, &t.ClearedAt} {
		if *p != nil {
			v := (**p).UTC()
			*p = &v
		}
	}
}
