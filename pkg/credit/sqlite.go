package credit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"briefgen/pkg/logx"
)

// SQLiteLedger is an append-only credit ledger. The balance is the sum of
// entry deltas; deduction is an atomic check-and-write inside one
// transaction, never a read-then-write.
type SQLiteLedger struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		investigation_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_owner ON credit_entries(owner_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteLedger{
		db:     db,
		logger: logx.NewLogger("credit"),
	}, nil
}

// Close closes the ledger database.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close ledger database: %w", err)
	}
	return nil
}

// Balance returns the owner's current credit balance.
func (l *SQLiteLedger) Balance(ownerID string) (int, error) {
	var balance sql.NullInt64
	err := l.db.QueryRow(`SELECT SUM(delta) FROM credit_entries WHERE owner_id = ?`, ownerID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to query balance for %s: %w", ownerID, err)
	}
	return int(balance.Int64), nil
}

// HasCredits implements Ledger.
func (l *SQLiteLedger) HasCredits(ownerID string, n int) (bool, error) {
	balance, err := l.Balance(ownerID)
	if err != nil {
		return false, err
	}
	return balance >= n, nil
}

// Grant adds credits to an owner's balance.
func (l *SQLiteLedger) Grant(ownerID string, n int, reason string) error {
	if n <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", n)
	}
	return l.insertEntry(ownerID, n, "", reason)
}

// DeductCredits implements Ledger. The balance check and the debit happen in
// one transaction so concurrent deductions cannot overdraw.
func (l *SQLiteLedger) DeductCredits(ownerID string, n int, investigationID, reason string) error {
	if n <= 0 {
		return fmt.Errorf("deduction amount must be positive, got %d", n)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin deduction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance sql.NullInt64
	if err := tx.QueryRow(`SELECT SUM(delta) FROM credit_entries WHERE owner_id = ?`, ownerID).Scan(&balance); err != nil {
		return fmt.Errorf("failed to check balance for %s: %w", ownerID, err)
	}
	if int(balance.Int64) < n {
		return ErrInsufficientCredit
	}

	_, err = tx.Exec(`
		INSERT INTO credit_entries (id, owner_id, delta, investigation_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ownerID, -n, investigationID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record deduction for %s: %w", ownerID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deduction: %w", err)
	}
	l.logger.Debug("deducted %d credit(s) from %s (investigation %s)", n, ownerID, investigationID)
	return nil
}

// RefundCredits implements Ledger.
func (l *SQLiteLedger) RefundCredits(ownerID string, n int, investigationID, reason string) error {
	if n <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", n)
	}
	if err := l.insertEntry(ownerID, n, investigationID, reason); err != nil {
		return err
	}
	l.logger.Info("refunded %d credit(s) to %s (investigation %s): %s", n, ownerID, investigationID, reason)
	return nil
}

// RefundCount returns how many refund entries exist for an investigation.
func (l *SQLiteLedger) RefundCount(investigationID string) (int, error) {
	var count int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM credit_entries
		WHERE investigation_id = ? AND delta > 0`, investigationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count refunds for %s: %w", investigationID, err)
	}
	return count, nil
}

func (l *SQLiteLedger) insertEntry(ownerID string, delta int, investigationID, reason string) error {
	_, err := l.db.Exec(`
		INSERT INTO credit_entries (id, owner_id, delta, investigation_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ownerID, delta, investigationID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry for %s: %w", ownerID, err)
	}
	return nil
}
