package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/caseledger/internal/canonical"
	"go.uber.org/zap"
)

// PostgresLedger persists case ledgers to a PostgreSQL database.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// ledgerRow is the mutable head of a ledger as seen inside a write transaction.
type ledgerRow struct {
	id        string
	root      string
	finalized bool
}

// Open implements Ledger.
func (l *PostgresLedger) Open(ctx context.Context, caseID string, lawyer, client canonical.Digest) (string, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "case:"+caseID); err != nil {
		return "", fmt.Errorf("acquire advisory lock: %w", err)
	}

	var id, lawyerHex, clientHex string
	err = tx.QueryRow(ctx,
		`SELECT id, lawyer_digest, client_digest FROM case_ledgers WHERE case_id = $1`, caseID,
	).Scan(&id, &lawyerHex, &clientHex)
	switch {
	case err == nil:
		if lawyerHex != lawyer.Hex() || clientHex != client.Hex() {
			return "", fmt.Errorf("open ledger for case %s: %w", caseID, ErrExists)
		}
		return id, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("look up ledger for case %s: %w", caseID, err)
	}

	id = uuid.NewString()
	if _, err := tx.Exec(ctx,
		`INSERT INTO case_ledgers (id, case_id, lawyer_digest, client_digest, root, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, caseID, lawyer.Hex(), client.Hex(), GenesisHash, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert ledger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Info("case ledger opened", zap.String("case_id", caseID), zap.String("ledger_id", id))
	return id, nil
}

// Append implements Ledger.
func (l *PostgresLedger) Append(ctx context.Context, ledgerID string, hash canonical.Digest) (int, error) {
	var idx int
	err := l.write(ctx, ledgerID, func(tx pgx.Tx, row *ledgerRow) error {
		var err error
		idx, err = l.insertEntry(ctx, tx, row, hash, 1, nil)
		return err
	})
	return idx, err
}

// AppendVersion implements Ledger.
func (l *PostgresLedger) AppendVersion(ctx context.Context, ledgerID string, parent int, hash canonical.Digest) (int, error) {
	var idx int
	err := l.write(ctx, ledgerID, func(tx pgx.Tx, row *ledgerRow) error {
		var parentVersion int
		var hasChild bool
		err := tx.QueryRow(ctx,
			`SELECT e.version,
			        EXISTS(SELECT 1 FROM ledger_entries c WHERE c.ledger_id = e.ledger_id AND c.parent_idx = e.idx)
			 FROM ledger_entries e WHERE e.ledger_id = $1 AND e.idx = $2`,
			ledgerID, parent,
		).Scan(&parentVersion, &hasChild)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("parent %d out of range: %w", parent, ErrInvalidParent)
		}
		if err != nil {
			return fmt.Errorf("read parent entry: %w", err)
		}
		if hasChild {
			return fmt.Errorf("parent %d already superseded: %w", parent, ErrInvalidParent)
		}
		idx, err = l.insertEntry(ctx, tx, row, hash, parentVersion+1, intPtr(parent))
		return err
	})
	return idx, err
}

func (l *PostgresLedger) insertEntry(ctx context.Context, tx pgx.Tx, row *ledgerRow, hash canonical.Digest, version int, parent *int) (int, error) {
	var n int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE ledger_id = $1", row.id,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}

	e := &Entry{
		Index:       n,
		Hash:        hash,
		Version:     version,
		ParentIndex: parent,
		Timestamp:   canonical.Normalize(time.Now()),
		PrevChain:   row.root,
	}
	e.Chain = chainEntry(row.id, e)

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (ledger_id, idx, hash, version, parent_idx, created_at, prev_chain, chain)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		row.id, e.Index, e.Hash.Hex(), e.Version, e.ParentIndex, e.Timestamp, e.PrevChain, e.Chain,
	); err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE case_ledgers SET root = $2 WHERE id = $1", row.id, e.Chain,
	); err != nil {
		return 0, fmt.Errorf("update ledger root: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.String("ledger_id", row.id),
		zap.Int("idx", e.Index),
		zap.Int("version", e.Version),
	)
	return e.Index, nil
}

// Entry implements Ledger.
func (l *PostgresLedger) Entry(ctx context.Context, ledgerID string, index int) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT idx, hash, version, parent_idx, created_at, prev_chain, chain
		 FROM ledger_entries WHERE ledger_id = $1 AND idx = $2`, ledgerID, index,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ledger %s index %d: %w", ledgerID, index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context, ledgerID string) (int, error) {
	var n int
	var exists bool
	if err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM case_ledgers WHERE id = $1),
		        (SELECT COUNT(*) FROM ledger_entries WHERE ledger_id = $1)`, ledgerID,
	).Scan(&exists, &n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	return n, nil
}

// PostStatus implements Ledger.
func (l *PostgresLedger) PostStatus(ctx context.Context, ledgerID, status string, digest canonical.Digest) error {
	return l.write(ctx, ledgerID, func(tx pgx.Tx, row *ledgerRow) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_status_events (ledger_id, seq, status, digest)
			 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3 FROM ledger_status_events WHERE ledger_id = $1`,
			row.id, status, digest.Hex(),
		); err != nil {
			return fmt.Errorf("insert status event: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE case_ledgers SET status = $2 WHERE id = $1", row.id, status,
		); err != nil {
			return fmt.Errorf("update ledger status: %w", err)
		}
		return nil
	})
}

// Finalize implements Ledger.
func (l *PostgresLedger) Finalize(ctx context.Context, ledgerID string, aggregate canonical.Digest) error {
	err := l.write(ctx, ledgerID, func(tx pgx.Tx, row *ledgerRow) error {
		if _, err := tx.Exec(ctx,
			`UPDATE case_ledgers SET status = 'closed', final_hash = $2, finalized_at = now() WHERE id = $1`,
			row.id, aggregate.Hex(),
		); err != nil {
			return fmt.Errorf("finalize ledger: %w", err)
		}
		return nil
	})
	if err == nil {
		l.logger.Info("case ledger finalized", zap.String("ledger_id", ledgerID), zap.String("hash", aggregate.Hex()))
	}
	return err
}

// Info implements Ledger.
func (l *PostgresLedger) Info(ctx context.Context, ledgerID string) (*Info, error) {
	var (
		info                 Info
		lawyerHex, clientHex string
		finalHex             *string
	)
	err := l.pool.QueryRow(ctx,
		`SELECT l.id, l.case_id, l.lawyer_digest, l.client_digest, l.status, l.root,
		        l.final_hash, l.created_at,
		        (SELECT COUNT(*) FROM ledger_entries e WHERE e.ledger_id = l.id)
		 FROM case_ledgers l WHERE l.id = $1`, ledgerID,
	).Scan(&info.ID, &info.CaseID, &lawyerHex, &clientHex, &info.Status, &info.Root,
		&finalHex, &info.CreatedAt, &info.Entries)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", ledgerID, err)
	}

	if info.LawyerDigest, err = canonical.ParseDigest(lawyerHex); err != nil {
		return nil, fmt.Errorf("ledger %s lawyer digest: %w", ledgerID, err)
	}
	if info.ClientDigest, err = canonical.ParseDigest(clientHex); err != nil {
		return nil, fmt.Errorf("ledger %s client digest: %w", ledgerID, err)
	}
	if finalHex != nil {
		final, err := canonical.ParseDigest(*finalHex)
		if err != nil {
			return nil, fmt.Errorf("ledger %s final hash: %w", ledgerID, err)
		}
		info.Finalized = true
		info.FinalHash = &final
	}
	info.CreatedAt = info.CreatedAt.UTC()
	return &info, nil
}

// Verify implements Ledger. It streams all entries of the ledger ordered by
// idx and validates the chain. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context, ledgerID string) error {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, hash, version, parent_idx, created_at, prev_chain, chain
		 FROM ledger_entries WHERE ledger_id = $1 ORDER BY idx ASC`, ledgerID,
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return verifyChain(ledgerID, entries)
}

// write runs fn inside a transaction holding the per-ledger advisory lock.
// The lock is released automatically when the transaction commits or rolls back.
func (l *PostgresLedger) write(ctx context.Context, ledgerID string, fn func(pgx.Tx, *ledgerRow) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", ledgerID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	row := &ledgerRow{id: ledgerID}
	var finalHash *string
	err = tx.QueryRow(ctx,
		"SELECT root, final_hash FROM case_ledgers WHERE id = $1", ledgerID,
	).Scan(&row.root, &finalHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger %s: %w", ledgerID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read ledger head: %w", err)
	}
	if finalHash != nil {
		return fmt.Errorf("ledger %s: %w", ledgerID, ErrFinalized)
	}

	if err := fn(tx, row); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e       Entry
		hashHex string
	)
	if err := row.Scan(&e.Index, &hashHex, &e.Version, &e.ParentIndex, &e.Timestamp, &e.PrevChain, &e.Chain); err != nil {
		return nil, err
	}
	hash, err := canonical.ParseDigest(hashHex)
	if err != nil {
		return nil, fmt.Errorf("entry %d hash: %w", e.Index, err)
	}
	e.Hash = hash
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
