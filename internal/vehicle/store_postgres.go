package vehicle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"xparking/pkg/platform/sentinel"
)

// PostgresStore persists vehicle sessions in PostgreSQL. The partial
// unique index on (plate) WHERE status = 'IN_LOT' enforces the
// one-active-session-per-plate invariant at the database, so two racing
// entries cannot both commit.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS vehicle_sessions (
	id              UUID PRIMARY KEY,
	plate           TEXT NOT NULL,
	credential      TEXT NOT NULL,
	entry_time      TIMESTAMPTZ NOT NULL,
	exit_time       TIMESTAMPTZ,
	fee             BIGINT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'IN_LOT',
	payment_status  TEXT NOT NULL DEFAULT 'UNPAID',
	entry_image_ref TEXT NOT NULL DEFAULT '',
	exit_image_ref  TEXT NOT NULL DEFAULT '',
	operator_entry  TEXT NOT NULL DEFAULT '',
	operator_exit   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_plate
	ON vehicle_sessions (plate) WHERE status = 'IN_LOT';
CREATE INDEX IF NOT EXISTS idx_sessions_credential
	ON vehicle_sessions (credential);
CREATE INDEX IF NOT EXISTS idx_sessions_entry_time
	ON vehicle_sessions (entry_time);
`

// EnsureSchema creates the sessions table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure vehicle schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEntry(ctx context.Context, entry Entry) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle_sessions
			(id, plate, credential, entry_time, entry_image_ref, operator_entry)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, entry.Plate, entry.Credential, entry.EntryTime, entry.ImageRef, entry.Operator)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", sentinel.ErrDuplicate
		}
		return "", fmt.Errorf("create entry: %w", err)
	}
	return id, nil
}

const sessionColumns = `
	id, plate, credential, entry_time, exit_time, fee, status,
	payment_status, entry_image_ref, exit_image_ref, operator_entry, operator_exit`

func (s *PostgresStore) FindActiveByPlate(ctx context.Context, plate string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM vehicle_sessions
		WHERE plate = $1 AND status = 'IN_LOT'
		ORDER BY entry_time DESC
		LIMIT 1`, plate)
	return scanSession(row)
}

func (s *PostgresStore) FindActiveByCredential(ctx context.Context, credential string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM vehicle_sessions
		WHERE credential = $1 AND status = 'IN_LOT'
		ORDER BY entry_time DESC
		LIMIT 1`, credential)
	return scanSession(row)
}

func (s *PostgresStore) CloseExit(ctx context.Context, id string, exit Exit) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vehicle_sessions
		SET exit_time = $2, fee = $3, status = 'EXITED',
			payment_status = 'PAID', exit_image_ref = $4, operator_exit = $5
		WHERE id = $1`,
		id, exit.ExitTime, exit.Fee, exit.ImageRef, exit.Operator)
	if err != nil {
		return fmt.Errorf("close exit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close exit: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicle_sessions WHERE status = 'IN_LOT'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) History(ctx context.Context, filter HistoryFilter) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM vehicle_sessions`
	var conditions []string
	var args []any

	if filter.Plate != "" {
		args = append(args, "%"+filter.Plate+"%")
		conditions = append(conditions, fmt.Sprintf("plate LIKE $%d", len(args)))
	}
	if !filter.EntryDate.IsZero() {
		args = append(args, filter.EntryDate)
		conditions = append(conditions, fmt.Sprintf("entry_time::date = $%d::date", len(args)))
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY entry_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revenue(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(fee), 0)
		FROM vehicle_sessions
		WHERE status = 'EXITED' AND exit_time BETWEEN $1 AND $2`,
		from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("revenue: %w", err)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var exitTime sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.Plate, &sess.Credential, &sess.EntryTime, &exitTime,
		&sess.Fee, &sess.Status, &sess.PaymentStatus, &sess.EntryImageRef,
		&sess.ExitImageRef, &sess.OperatorEntry, &sess.OperatorExit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if exitTime.Valid {
		sess.ExitTime = &exitTime.Time
	}
	return &sess, nil
}
