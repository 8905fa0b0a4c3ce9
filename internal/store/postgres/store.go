package postgres

import (
	"context"
	"errors"
	"fmt"

	"gilded/internal/economy"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLogDiverged means the snapshot's log is not an extension of the stored
// log. The transaction log is append-only, so such a save is refused.
var ErrLogDiverged = errors.New("transaction log diverged from stored log")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context) (economy.Snapshot, error) {
	var snap economy.Snapshot

	rows, err := s.db.Query(ctx, `
		SELECT player_id, display_name, balance, subscriptions, inventory, created_at
		FROM gilded.accounts
		ORDER BY ordinal
	`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var a economy.Account
		if err := rows.Scan(&a.PlayerID, &a.DisplayName, &a.Balance, &a.Subscriptions, &a.Inventory, &a.CreatedAt); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.Query(ctx, `
		SELECT entry_id, player_id, player, kind, delta, balance, description, created_at
		FROM gilded.transaction_log
		ORDER BY seq
	`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var e economy.LogEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Player, &kind, &e.Delta, &e.Balance, &e.Description, &e.Timestamp); err != nil {
			rows.Close()
			return snap, err
		}
		e.Kind = economy.EntryKind(kind)
		snap.Log = append(snap.Log, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = s.db.Query(ctx, `SELECT item_name FROM gilded.market_offering ORDER BY position`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return snap, err
		}
		snap.Offering = append(snap.Offering, name)
	}
	return snap, rows.Err()
}

// Save writes the snapshot in one serializable transaction: accounts are
// upserted, log entries past the stored tail are appended, and the offering
// is replaced.
func (s *Store) Save(ctx context.Context, snap economy.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i, a := range snap.Accounts {
		batch.Queue(`
			INSERT INTO gilded.accounts (player_id, ordinal, display_name, balance, subscriptions, inventory, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (player_id) DO UPDATE
			SET display_name = EXCLUDED.display_name,
			    balance = EXCLUDED.balance,
			    subscriptions = EXCLUDED.subscriptions,
			    inventory = EXCLUDED.inventory,
			    updated_at = now()
			WHERE gilded.accounts.display_name IS DISTINCT FROM EXCLUDED.display_name
			   OR gilded.accounts.balance <> EXCLUDED.balance
			   OR gilded.accounts.subscriptions IS DISTINCT FROM EXCLUDED.subscriptions
			   OR gilded.accounts.inventory IS DISTINCT FROM EXCLUDED.inventory
		`, a.PlayerID, i, a.DisplayName, a.Balance, nonNil(a.Subscriptions), nonNil(a.Inventory), a.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert accounts: %w", err)
	}

	stored, err := storedLogTail(ctx, tx, snap.Log)
	if err != nil {
		return err
	}
	if pending := snap.Log[stored:]; len(pending) > 0 {
		batch = &pgx.Batch{}
		for i, e := range pending {
			batch.Queue(`
				INSERT INTO gilded.transaction_log (seq, entry_id, player_id, player, kind, delta, balance, description, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, int64(stored+i+1), e.ID, e.PlayerID, e.Player, string(e.Kind), e.Delta, e.Balance, e.Description, e.Timestamp)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", ErrLogDiverged, err)
			}
			return fmt.Errorf("append log: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM gilded.market_offering`); err != nil {
		return err
	}
	for i, name := range snap.Offering {
		if _, err := tx.Exec(ctx, `
			INSERT INTO gilded.market_offering (position, item_name)
			VALUES ($1, $2)
		`, i, name); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// storedLogTail returns how many entries of log are already stored, after
// checking that the stored tail is the same entry the snapshot has there.
func storedLogTail(ctx context.Context, tx pgx.Tx, log []economy.LogEntry) (int, error) {
	var count int64
	var lastID string
	err := tx.QueryRow(ctx, `
		SELECT seq, entry_id
		FROM gilded.transaction_log
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&count, &lastID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if count > int64(len(log)) {
		return 0, fmt.Errorf("%w: stored %d entries, snapshot has %d", ErrLogDiverged, count, len(log))
	}
	if log[count-1].ID != lastID {
		return 0, fmt.Errorf("%w: entry %d is %s in store, %s in snapshot", ErrLogDiverged, count, lastID, log[count-1].ID)
	}
	return int(count), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
