package token

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository stores tokens in a single SQLite file. The database handle
// is expected to hold one connection, so every transaction runs alone.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const sqliteTimeLayout = time.RFC3339Nano

const sqliteTokenColumns = `id, center_id, center_name, center_code, center_type, department, token_number,
	user_name, user_phone, purpose, created_by, status, created_at, approved_at, rejected_at, cleared_at`

const sqliteCenterColumns = `id, name, code, type, address, departments, created_at, updated_at`

const sqliteQRColumns = `code, center_id, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteToken(row rowScanner) (*Token, error) {
	var (
		t          Token
		id         string
		status     string
		createdAt  string
		createdBy  sql.NullString
		approvedAt sql.NullString
		rejectedAt sql.NullString
		clearedAt  sql.NullString
	)
	err := row.Scan(
		&id,
		&t.CenterID,
		&t.CenterName,
		&t.CenterCode,
		&t.CenterType,
		&t.Department,
		&t.TokenNumber,
		&t.UserName,
		&t.UserPhone,
		&t.Purpose,
		&createdBy,
		&status,
		&createdAt,
		&approvedAt,
		&rejectedAt,
		&clearedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, storageErr("scan token", err)
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, storageErr("decode token id", err)
	}
	t.Status = Status(status)
	if createdBy.Valid {
		by := createdBy.String
		t.CreatedBy = &by
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storageErr("decode created_at", err)
	}
	if t.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, storageErr("decode approved_at", err)
	}
	if t.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
		return nil, storageErr("decode rejected_at", err)
	}
	if t.ClearedAt, err = parseNullTime(clearedAt); err != nil {
		return nil, storageErr("decode cleared_at", err)
	}
	return &t, nil
}

func scanSQLiteCenter(row rowScanner) (*Center, error) {
	var (
		c                    Center
		departments          string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.Type, &c.Address, &departments, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, storageErr("scan center", err)
	}

	c.Departments = []string{}
	if departments != "" {
		if err := json.Unmarshal([]byte(departments), &c.Departments); err != nil {
			return nil, storageErr("decode departments", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storageErr("decode created_at", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, storageErr("decode updated_at", err)
	}
	return &c, nil
}

func scanSQLiteQR(row rowScanner) (*QRCode, error) {
	var (
		q                    QRCode
		createdAt, updatedAt string
	)
	err := row.Scan(&q.Code, &q.CenterID, &q.Active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQRCodeNotFound
		}
		return nil, storageErr("scan qr code", err)
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storageErr("decode created_at", err)
	}
	if q.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, storageErr("decode updated_at", err)
	}
	return &q, nil
}

// Centers

func (r *SQLiteRepository) GetCenter(ctx context.Context, id string) (*Center, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteCenterColumns+` FROM centers WHERE id = ?`, id)
	return scanSQLiteCenter(row)
}

func (r *SQLiteRepository) ListCenters(ctx context.Context) ([]Center, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteCenterColumns+` FROM centers ORDER BY id`)
	if err != nil {
		return nil, storageErr("list centers", err)
	}
	defer rows.Close()

	result := make([]Center, 0)
	for rows.Next() {
		c, err := scanSQLiteCenter(rows)
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

func (r *SQLiteRepository) UpsertCenter(ctx context.Context, c Center) (*Center, error) {
	if c.Departments == nil {
		c.Departments = []string{}
	}
	departments, err := json.Marshal(c.Departments)
	if err != nil {
		return nil, fmt.Errorf("encode departments: %w", err)
	}

	now := formatTime(time.Now())
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO centers (id, name, code, type, address, departments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name,
		    code = excluded.code,
		    type = excluded.type,
		    address = excluded.address,
		    departments = excluded.departments,
		    updated_at = excluded.updated_at
		RETURNING `+sqliteCenterColumns,
		c.ID, c.Name, c.Code, c.Type, c.Address, string(departments), now, now)
	return scanSQLiteCenter(row)
}

// Tokens

func (r *SQLiteRepository) CreateToken(ctx context.Context, nt NewToken) (*Token, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin create token", err)
	}
	defer tx.Rollback()

	scope := Scope{CenterID: nt.Center.ID, Department: nt.Draft.Department}
	now := formatTime(nt.CreatedAt)

	var number int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO token_counters (center_id, department, last_number, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (center_id, department)
		DO UPDATE SET last_number = last_number + 1,
		              updated_at = excluded.updated_at
		RETURNING last_number
	`, scope.CenterID, scope.Department, now).Scan(&number)
	if err != nil {
		return nil, storageErr("allocate token number", err)
	}

	var createdBy any
	if nt.Draft.CreatedBy != nil {
		createdBy = *nt.Draft.CreatedBy
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO tokens (
			id, center_id, center_name, center_code, center_type, department, token_number,
			user_name, user_phone, purpose, created_by, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		RETURNING `+sqliteTokenColumns,
		nt.ID.String(), nt.Center.ID, nt.Center.Name, nt.Center.Code, nt.Center.Type, scope.Department, number,
		nt.Draft.Name, nt.Draft.Phone, nt.Draft.Purpose, createdBy, now)

	t, err := scanSQLiteToken(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit create token", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTokenColumns+` FROM tokens WHERE id = ?`, id.String())
	return scanSQLiteToken(row)
}

func (r *SQLiteRepository) ListTokens(ctx context.Context, f Filter) ([]Token, error) {
	var where []string
	var args []any
	if f.CenterID != "" {
		where = append(where, "center_id = ?")
		args = append(args, f.CenterID)
	}
	if f.Department != "" {
		where = append(where, "department = ?")
		args = append(args, f.Department)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, f.CreatedBy)
	}

	query := `SELECT ` + sqliteTokenColumns + ` FROM tokens`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list tokens", err)
	}
	defer rows.Close()

	result := make([]Token, 0)
	for rows.Next() {
		t, err := scanSQLiteToken(rows)
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

func (r *SQLiteRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error) {
	column, err := timestampColumn(to)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE tokens
		SET status = ?, `+column+` = ?
		WHERE id = ? AND status = ?
		RETURNING `+sqliteTokenColumns,
		string(to), formatTime(at), id.String(), string(from))
	return scanSQLiteToken(row)
}

func (r *SQLiteRepository) LastTokenNumber(ctx context.Context, s Scope) (int, error) {
	var last int
	err := r.db.QueryRowContext(ctx, `
		SELECT last_number FROM token_counters WHERE center_id = ? AND department = ?
	`, s.CenterID, s.Department).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, storageErr("read counter", err)
	}
	return last, nil
}

// QR codes

func (r *SQLiteRepository) GetQRCode(ctx context.Context, code string) (*QRCode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteQRColumns+` FROM qr_codes WHERE code = ?`, code)
	return scanSQLiteQR(row)
}

func (r *SQLiteRepository) CreateQRCodes(ctx context.Context, codes []QRCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin create qr codes", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qr_codes (code, center_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return storageErr("prepare insert qr code", err)
	}
	defer stmt.Close()

	for _, q := range codes {
		if _, err := stmt.ExecContext(ctx, q.Code, q.CenterID, q.Active, formatTime(q.CreatedAt), formatTime(q.UpdatedAt)); err != nil {
			return storageErr("insert qr code", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit create qr codes", err)
	}
	return nil
}

func (r *SQLiteRepository) ListQRCodes(ctx context.Context, centerID string) ([]QRCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteQRColumns+`
		FROM qr_codes
		WHERE ? = '' OR center_id = ?
		ORDER BY seq
	`, centerID, centerID)
	if err != nil {
		return nil, storageErr("list qr codes", err)
	}
	defer rows.Close()

	result := make([]QRCode, 0)
	for rows.Next() {
		q, err := scanSQLiteQR(rows)
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

func (r *SQLiteRepository) ToggleQRCode(ctx context.Context, code string, at time.Time) (*QRCode, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE qr_codes
		SET active = CASE active WHEN 0 THEN 1 ELSE 0 END,
		    updated_at = ?
		WHERE code = ?
		RETURNING `+sqliteQRColumns,
		formatTime(at), code)
	return scanSQLiteQR(row)
}

// Event logging

func (r *SQLiteRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var tokenID, payload any
	if ev.TokenID != nil {
		tokenID = ev.TokenID.String()
	}
	if ev.Payload != nil {
		payload = string(ev.Payload)
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_events (event_type, token_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.EventType, tokenID, payload, formatTime(createdAt))
	if err != nil {
		return storageErr("insert event log", err)
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
