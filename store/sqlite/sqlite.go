/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements ledger.Store over SQLite. The same patterns apply to any
  store with per-document transactions - only dialect details differ.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the entries or referrals tables.
  Corrections are made via compensating entries.

IDEMPOTENCY INDEXES:
  referrals:       UNIQUE(inviter_id, invitee_id)
  webhook_events:  PRIMARY KEY(event_id)
  Unique violations are mapped back to the engine's conflict errors, so
  the database enforces the guards even if a caller races past the
  in-transaction check.

CONCURRENCY:
  A process-level mutex serializes write transactions; SQLite's WAL mode
  keeps readers unblocked. BEGIN IMMEDIATE claims the write lock up
  front, and SQLITE_BUSY surfaces as ledger.ErrTransactionConflict for
  the mutator's bounded retry.

USAGE:
  store, err := sqlite.New("./data/growth.db")   // ":memory:" for tests
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/smartpicture/growth-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The connection pool must not hand a second connection to an
	// in-memory database: each connection would see its own empty schema.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		level TEXT NOT NULL DEFAULT 'starter',
		role TEXT NOT NULL DEFAULT 'user',
		invited_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		remark TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_user ON entries(user_id, created_at);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		creator TEXT NOT NULL,
		original_price TEXT NOT NULL,
		target_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		helpers TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'active',
		last_scenario TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Append-only referral records
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		inviter_id TEXT NOT NULL,
		invitee_id TEXT NOT NULL,
		inviter_reward INTEGER NOT NULL,
		invitee_reward INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(inviter_id, invitee_id)
	);
	CREATE INDEX IF NOT EXISTS idx_referrals_inviter ON referrals(inviter_id);

	-- Processed external event ids (webhook dedupe)
	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id TEXT PRIMARY KEY,
		processed_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// =============================================================================
// QUERIES - Shared by Store (pool) and tx views
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getAccount(ctx context.Context, q querier, id ledger.UserID) (*ledger.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, points, level, role, invited_by, created_at
		FROM accounts WHERE id = ?`, string(id))

	var a ledger.Account
	var createdAt string
	err := row.Scan(&a.ID, &a.Points, &a.Level, &a.Role, &a.InvitedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func listAccountIDs(ctx context.Context, q querier) ([]ledger.UserID, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ledger.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.UserID(id))
	}
	return ids, rows.Err()
}

func listEntries(ctx context.Context, q querier, id ledger.UserID) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, entry_type, amount, remark, created_at
		FROM entries WHERE user_id = ?
		ORDER BY rowid DESC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Remark, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func getCampaign(ctx context.Context, q querier, id ledger.CampaignID) (*ledger.Campaign, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, creator, original_price, target_price, current_price,
		       helpers, status, last_scenario, created_at
		FROM campaigns WHERE id = ?`, string(id))

	var c ledger.Campaign
	var original, target, current, helpers, createdAt string
	err := row.Scan(&c.ID, &c.Creator, &original, &target, &current,
		&helpers, &c.Status, &c.LastScenario, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if c.OriginalPrice, err = decimal.NewFromString(original); err != nil {
		return nil, fmt.Errorf("campaign %s original_price: %w", id, err)
	}
	if c.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("campaign %s target_price: %w", id, err)
	}
	if c.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("campaign %s current_price: %w", id, err)
	}
	if err := json.Unmarshal([]byte(helpers), &c.Helpers); err != nil {
		return nil, fmt.Errorf("campaign %s helpers: %w", id, err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func referralExists(ctx context.Context, q querier, inviter, invitee ledger.UserID) (bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM referrals WHERE inviter_id = ? AND invitee_id = ?`,
		string(inviter), string(invitee))
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func countReferrals(ctx context.Context, q querier, inviter ledger.UserID) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM referrals WHERE inviter_id = ?`, string(inviter))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// READER (outside transactions)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	return getAccount(ctx, s.db, id)
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]ledger.UserID, error) {
	return listAccountIDs(ctx, s.db)
}

func (s *Store) ListEntries(ctx context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, id)
}

func (s *Store) GetCampaign(ctx context.Context, id ledger.CampaignID) (*ledger.Campaign, error) {
	return getCampaign(ctx, s.db, id)
}

func (s *Store) ReferralExists(ctx context.Context, inviter, invitee ledger.UserID) (bool, error) {
	return referralExists(ctx, s.db, inviter, invitee)
}

func (s *Store) CountReferrals(ctx context.Context, inviter ledger.UserID) (int, error) {
	return countReferrals(ctx, s.db, inviter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside BEGIN IMMEDIATE. The mutex serializes writers in
// this process; IMMEDIATE claims the database write lock so a competing
// process fails fast with SQLITE_BUSY, which maps to the engine's
// conflict error for retry.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return ledger.ErrTransactionConflict
		}
		return err
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return ledger.ErrTransactionConflict
		}
		return err
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetAccount(ctx context.Context, id ledger.UserID) (*ledger.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *sqliteTx) ListAccountIDs(ctx context.Context) ([]ledger.UserID, error) {
	return listAccountIDs(ctx, t.tx)
}

func (t *sqliteTx) ListEntries(ctx context.Context, id ledger.UserID) ([]ledger.Entry, error) {
	return listEntries(ctx, t.tx, id)
}

func (t *sqliteTx) GetCampaign(ctx context.Context, id ledger.CampaignID) (*ledger.Campaign, error) {
	return getCampaign(ctx, t.tx, id)
}

func (t *sqliteTx) ReferralExists(ctx context.Context, inviter, invitee ledger.UserID) (bool, error) {
	return referralExists(ctx, t.tx, inviter, invitee)
}

func (t *sqliteTx) CountReferrals(ctx context.Context, inviter ledger.UserID) (int, error) {
	return countReferrals(ctx, t.tx, inviter)
}

func (t *sqliteTx) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, points, level, role, invited_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Points, string(a.Level), string(a.Role),
		string(a.InvitedBy), formatTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return ledger.ErrAccountExists
	}
	return err
}

func (t *sqliteTx) SetPoints(ctx context.Context, id ledger.UserID, points int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET points = ? WHERE id = ?`, points, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqliteTx) SetInvitedBy(ctx context.Context, id, inviter ledger.UserID) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET invited_by = ? WHERE id = ?`, string(inviter), string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqliteTx) SetLevel(ctx context.Context, id ledger.UserID, level ledger.Level) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET level = ? WHERE id = ?`, string(level), string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqliteTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (id, user_id, entry_type, amount, remark, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.UserID), string(e.Type), e.Amount, e.Remark,
		formatTime(e.CreatedAt))
	return err
}

func (t *sqliteTx) PutCampaign(ctx context.Context, c *ledger.Campaign) error {
	helpers, err := json.Marshal(c.Helpers)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, creator, original_price, target_price,
			current_price, helpers, status, last_scenario, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_price = excluded.current_price,
			helpers = excluded.helpers,
			status = excluded.status,
			last_scenario = excluded.last_scenario`,
		string(c.ID), string(c.Creator), c.OriginalPrice.String(),
		c.TargetPrice.String(), c.CurrentPrice.String(), string(helpers),
		string(c.Status), c.LastScenario, formatTime(c.CreatedAt))
	return err
}

func (t *sqliteTx) CreateReferral(ctx context.Context, r ledger.Referral) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO referrals (id, inviter_id, invitee_id, inviter_reward, invitee_reward, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.InviterID), string(r.InviteeID),
		r.InviterReward, r.InviteeReward, formatTime(r.CreatedAt))
	if isUniqueViolation(err) {
		return ledger.ErrAlreadyInvited
	}
	return err
}

func (t *sqliteTx) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, processed_at) VALUES (?, ?)`,
		eventID, formatTime(time.Now().UTC()))
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateEvent
	}
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
