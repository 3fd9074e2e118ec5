package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"cycle-scheduler/internal/models"
)

// SQLSTATE codes that mean another writer holds what we need.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// PostgresStore keeps accounts and work items in two tables. Row order is the
// insertion sequence, which is the store's natural iteration order.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a pooled connection to Postgres.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return &PostgresStore{pool: pool, lockTimeout: 2 * time.Second}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load reads both collections inside one read-only transaction so the
// snapshot is consistent. Postgres always "exists"; ErrNotFound is never returned.
func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, errors.Wrap(err, "begin load tx")
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	accounts, err := s.loadAccounts(ctx, tx)
	if err != nil {
		return nil, err
	}
	items, err := s.loadWorkItems(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit load tx")
	}
	return NewSnapshot(accounts, items), nil
}

func (s *PostgresStore) loadAccounts(ctx context.Context, tx pgx.Tx) ([]models.Account, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, status, credential_ref, display_name
		FROM accounts ORDER BY seq
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		var status string
		var cred, name pgtype.Text
		if err := rows.Scan(&a.ID, &status, &cred, &name); err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		a.Status = models.AccountStatus(status)
		a.CredentialRef = cred.String
		a.DisplayName = name.String
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate accounts")
}

func (s *PostgresStore) loadWorkItems(ctx context.Context, tx pgx.Tx) ([]models.WorkItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, account_id, scheduled_at, status, payload, target_ref, error_detail
		FROM work_items ORDER BY seq
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query work items")
	}
	defer rows.Close()

	var out []models.WorkItem
	for rows.Next() {
		var item models.WorkItem
		var status string
		var scheduled pgtype.Timestamptz
		var payloadJSON []byte
		var target, detail pgtype.Text
		if err := rows.Scan(&item.ID, &item.AccountID, &scheduled, &status, &payloadJSON, &target, &detail); err != nil {
			return nil, errors.Wrap(err, "scan work item")
		}
		item.Status = models.WorkItemStatus(status)
		if scheduled.Valid {
			item.ScheduledAt = scheduled.Time
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
				return nil, errors.Wrapf(err, "unmarshal payload of %s", item.ID)
			}
		}
		item.TargetRef = target.String
		item.ErrorDetail = detail.String
		out = append(out, item)
	}
	return out, errors.Wrap(rows.Err(), "iterate work items")
}

// Save writes every dirty work item in one transaction.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	dirty := snap.Dirty()
	if len(dirty) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPgError(errors.Wrap(err, "begin save tx"))
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classifyPgError(errors.Wrap(err, "set lock_timeout"))
	}

	batch := &pgx.Batch{}
	for _, item := range dirty {
		batch.Queue(`
			UPDATE work_items
			SET status = $2, error_detail = $3, updated_at = NOW()
			WHERE id = $1
		`, item.ID, string(item.Status), emptyToNil(item.ErrorDetail))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classifyPgError(errors.Wrap(err, "update work items"))
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(errors.Wrap(err, "commit save tx"))
	}
	snap.MarkClean()
	return nil
}

// classifyPgError marks lock and serialization conflicts as ErrBusy.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return errors.Mark(err, ErrBusy)
		}
	}
	return err
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
