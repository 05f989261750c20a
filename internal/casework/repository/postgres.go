package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/caseledger/internal/casework/model"
)

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a PostgresStore. lockTimeout bounds how long a
// statement waits for a row lock before the transaction is reported as
// ErrRetryable; zero leaves the server default in place.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// InTx implements Store.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if s.lockTimeout > 0 {
		ms := s.lockTimeout.Milliseconds()
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return fmt.Errorf("set lock_timeout: %w", classify(err))
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// classify maps PostgreSQL error codes onto the package sentinels.
//
//	40001 serialization_failure, 40P01 deadlock_detected, 55P03 lock_not_available -> ErrRetryable
//	23505 unique_violation -> ErrDuplicate
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ErrRetryable, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ClaimSequence(ctx context.Context, scope string) (int, error) {
	var v int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO id_counters (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = id_counters.value + 1
		RETURNING value`, scope,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("claim sequence %s: %w", scope, classify(err))
	}
	return v, nil
}

const caseColumns = `id, lawyer_id, client_id, title, status, status_label, ledger_id,
	final_hash, total_logs, total_time_spent, created_at, updated_at, closed_at`

func (t *pgTx) CreateCase(ctx context.Context, c *model.Case) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.LawyerID, c.ClientID, c.Title, c.Status, c.StatusLabel, c.LedgerID,
		c.FinalHash, c.TotalLogs, c.TotalTimeSpent, c.CreatedAt, c.UpdatedAt, c.ClosedAt,
	)
	return classify(err)
}

func (t *pgTx) GetCase(ctx context.Context, id string) (*model.Case, error) {
	return scanCase(t.tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
}

func (t *pgTx) LockCase(ctx context.Context, id string) (*model.Case, error) {
	return scanCase(t.tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateCase(ctx context.Context, c *model.Case) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE cases SET
			title = $2, status = $3, status_label = $4, ledger_id = $5, final_hash = $6,
			total_logs = $7, total_time_spent = $8, updated_at = $9, closed_at = $10
		WHERE id = $1`,
		c.ID, c.Title, c.Status, c.StatusLabel, c.LedgerID, c.FinalHash,
		c.TotalLogs, c.TotalTimeSpent, c.UpdatedAt, c.ClosedAt,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListCasesByParty(ctx context.Context, partyID string) ([]*model.Case, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE lawyer_id = $1 OR client_id = $1
		ORDER BY created_at DESC, id DESC`, partyID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

func scanCase(row pgx.Row) (*model.Case, error) {
	var c model.Case
	err := row.Scan(
		&c.ID, &c.LawyerID, &c.ClientID, &c.Title, &c.Status, &c.StatusLabel, &c.LedgerID,
		&c.FinalHash, &c.TotalLogs, &c.TotalTimeSpent, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

const logColumns = `id, case_id, seq, author_id, description, time_spent, logged_at,
	edited, version, parent_idx, origin_id, superseded_by, hash, orphan`

func (t *pgTx) CreateLog(ctx context.Context, l *model.ProgressLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO progress_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		l.ID, l.CaseID, l.Seq, l.AuthorID, l.Description, l.TimeSpent, l.Timestamp,
		l.Edited, l.Version, l.ParentIndex, l.OriginID, l.SupersededBy, l.Hash, l.Orphan,
	)
	return classify(err)
}

func (t *pgTx) GetLog(ctx context.Context, id string) (*model.ProgressLog, error) {
	return scanLog(t.tx.QueryRow(ctx, `SELECT `+logColumns+` FROM progress_logs WHERE id = $1`, id))
}

func (t *pgTx) MarkLogSuperseded(ctx context.Context, id, successor string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE progress_logs SET edited = true, superseded_by = $2 WHERE id = $1`, id, successor)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListLogs(ctx context.Context, caseID string) ([]*model.ProgressLog, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+logColumns+` FROM progress_logs
		WHERE case_id = $1
		ORDER BY logged_at ASC, seq ASC`, caseID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.ProgressLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}

func scanLog(row pgx.Row) (*model.ProgressLog, error) {
	var l model.ProgressLog
	err := row.Scan(
		&l.ID, &l.CaseID, &l.Seq, &l.AuthorID, &l.Description, &l.TimeSpent, &l.Timestamp,
		&l.Edited, &l.Version, &l.ParentIndex, &l.OriginID, &l.SupersededBy, &l.Hash, &l.Orphan,
	)
	if err != nil {
		return nil, classify(err)
	}
	l.Timestamp = l.Timestamp.UTC()
	return &l, nil
}

func (t *pgTx) CreateLogVersion(ctx context.Context, v *model.LogVersion) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO log_versions (
			id, log_id, origin_id, case_id, version, old_description, old_time_spent,
			original_logged_at, edited_by, edited_at, superseded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.LogID, v.OriginID, v.CaseID, v.Version, v.OldDescription, v.OldTimeSpent,
		v.OriginalTimestamp, v.EditedBy, v.EditedAt, v.SupersededBy,
	)
	return classify(err)
}

func (t *pgTx) ListLogVersions(ctx context.Context, originID string) ([]*model.LogVersion, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, log_id, origin_id, case_id, version, old_description, old_time_spent,
		       original_logged_at, edited_by, edited_at, superseded_by
		FROM log_versions
		WHERE origin_id = $1
		ORDER BY version ASC`, originID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.LogVersion
	for rows.Next() {
		var v model.LogVersion
		if err := rows.Scan(
			&v.ID, &v.LogID, &v.OriginID, &v.CaseID, &v.Version, &v.OldDescription, &v.OldTimeSpent,
			&v.OriginalTimestamp, &v.EditedBy, &v.EditedAt, &v.SupersededBy,
		); err != nil {
			return nil, classify(err)
		}
		v.OriginalTimestamp = v.OriginalTimestamp.UTC()
		v.EditedAt = v.EditedAt.UTC()
		out = append(out, &v)
	}
	return out, classify(rows.Err())
}

func (t *pgTx) CreateStatusChange(ctx context.Context, sc *model.StatusChange) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO case_status_changes (
			id, case_id, old_status, old_label, new_status, new_label,
			actor_id, reason, changed_at, ledger_digest
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sc.ID, sc.CaseID, sc.OldStatus, sc.OldLabel, sc.NewStatus, sc.NewLabel,
		sc.ActorID, sc.Reason, sc.Timestamp, sc.LedgerDigest,
	)
	return classify(err)
}

func (t *pgTx) ListStatusChanges(ctx context.Context, caseID string) ([]*model.StatusChange, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, case_id, old_status, old_label, new_status, new_label,
		       actor_id, reason, changed_at, ledger_digest
		FROM case_status_changes
		WHERE case_id = $1
		ORDER BY changed_at ASC, seq ASC`, caseID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.StatusChange
	for rows.Next() {
		var sc model.StatusChange
		if err := rows.Scan(
			&sc.ID, &sc.CaseID, &sc.OldStatus, &sc.OldLabel, &sc.NewStatus, &sc.NewLabel,
			&sc.ActorID, &sc.Reason, &sc.Timestamp, &sc.LedgerDigest,
		); err != nil {
			return nil, classify(err)
		}
		sc.Timestamp = sc.Timestamp.UTC()
		out = append(out, &sc)
	}
	return out, classify(rows.Err())
}

func (t *pgTx) CreateGrant(ctx context.Context, g *model.AuditGrant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_grants (id, case_id, auditor_id, granted_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.CaseID, g.AuditorID, g.GrantedBy, g.CreatedAt, g.ExpiresAt,
	)
	return classify(err)
}

func (t *pgTx) ActiveGrant(ctx context.Context, caseID, auditorID string, now time.Time) (*model.AuditGrant, error) {
	var g model.AuditGrant
	err := t.tx.QueryRow(ctx, `
		SELECT id, case_id, auditor_id, granted_by, created_at, expires_at
		FROM audit_grants
		WHERE case_id = $1 AND auditor_id = $2 AND expires_at > $3
		ORDER BY expires_at DESC
		LIMIT 1`, caseID, auditorID, now,
	).Scan(&g.ID, &g.CaseID, &g.AuditorID, &g.GrantedBy, &g.CreatedAt, &g.ExpiresAt)
	if err != nil {
		return nil, classify(err)
	}
	return &g, nil
}

func (t *pgTx) ListGrants(ctx context.Context, caseID string) ([]*model.AuditGrant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, case_id, auditor_id, granted_by, created_at, expires_at
		FROM audit_grants
		WHERE case_id = $1
		ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.AuditGrant
	for rows.Next() {
		var g model.AuditGrant
		if err := rows.Scan(&g.ID, &g.CaseID, &g.AuditorID, &g.GrantedBy, &g.CreatedAt, &g.ExpiresAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, &g)
	}
	return out, classify(rows.Err())
}
