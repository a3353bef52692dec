package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"briefgen/pkg/logx"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// Store owns one database connection. Unlike a process-wide singleton, each
// caller opens and closes its own store; the pipeline holds it for the
// duration of a run.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the investigation database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func initializeSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}
	return createSchema(db)
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`PRAGMA user_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS investigations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		draft TEXT NOT NULL DEFAULT '',
		score REAL,
		status TEXT NOT NULL DEFAULT 'pending',
		fail_reason TEXT NOT NULL DEFAULT '',
		refunded INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		investigation_id TEXT NOT NULL REFERENCES investigations(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'secondary'
	);

	CREATE INDEX IF NOT EXISTS idx_investigations_owner ON investigations(owner_id);
	CREATE INDEX IF NOT EXISTS idx_sources_investigation ON sources(investigation_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// CreateInvestigation persists a new investigation record and returns its ID.
func (s *Store) CreateInvestigation(subject, ownerID, kind string, createdAt time.Time) (string, error) {
	inv, err := NewInvestigation(subject, ownerID, kind, createdAt)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`
		INSERT INTO investigations (id, owner_id, subject, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OwnerID, inv.Subject, inv.Kind, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert investigation: %w", err)
	}
	s.logger.Debug("created investigation %s for owner %s", inv.ID, ownerID)
	return inv.ID, nil
}

// GetInvestigation fetches one investigation, or nil when not found.
func (s *Store) GetInvestigation(id string) (*Investigation, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, subject, kind, draft, score, status, fail_reason, refunded, created_at, completed_at
		FROM investigations WHERE id = ?`, id)

	var inv Investigation
	var refunded int
	err := row.Scan(&inv.ID, &inv.OwnerID, &inv.Subject, &inv.Kind, &inv.Draft,
		&inv.Score, &inv.Status, &inv.FailReason, &refunded, &inv.CreatedAt, &inv.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Absent record is not an error at this boundary
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation %s: %w", id, err)
	}
	inv.Refunded = refunded != 0
	return &inv, nil
}

// SetKind records the classification stage's subject kind.
func (s *Store) SetKind(id, kind string) error {
	res, err := s.db.Exec(`UPDATE investigations SET kind = ? WHERE id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to set kind for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("investigation %s not found", id)
	}
	return nil
}

// UpdateStatus moves an investigation to a new lifecycle status.
func (s *Store) UpdateStatus(id, status string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("invalid investigation status %q", status)
	}
	res, err := s.db.Exec(`UPDATE investigations SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("investigation %s not found", id)
	}
	return nil
}

// Complete marks an investigation complete with its final draft and score.
func (s *Store) Complete(id, draft string, score float64, refunded bool, completedAt time.Time) error {
	refundedInt := 0
	if refunded {
		refundedInt = 1
	}
	res, err := s.db.Exec(`
		UPDATE investigations
		SET status = ?, draft = ?, score = ?, refunded = ?, completed_at = ?
		WHERE id = ?`,
		StatusComplete, draft, score, refundedInt, completedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete investigation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("investigation %s not found", id)
	}
	return nil
}

// Fail marks an investigation failed. Partial drafts are never marked
// complete. refunded records whether the credit actually came back; a failed
// refund call must not be persisted as a refund.
func (s *Store) Fail(id, reason string, refunded bool, failedAt time.Time) error {
	refundedInt := 0
	if refunded {
		refundedInt = 1
	}
	res, err := s.db.Exec(`
		UPDATE investigations
		SET status = ?, fail_reason = ?, refunded = ?, completed_at = ?
		WHERE id = ?`,
		StatusFailed, reason, refundedInt, failedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark investigation %s failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("investigation %s not found", id)
	}
	return nil
}

// AddSources persists the research stage's extracted sources.
func (s *Store) AddSources(investigationID string, sources []Source) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin source insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range sources {
		src := &sources[i]
		_, err := tx.Exec(`
			INSERT INTO sources (id, investigation_id, title, url, kind)
			VALUES (?, ?, ?, ?, ?)`,
			src.ID, investigationID, src.Title, src.URL, src.Kind)
		if err != nil {
			return fmt.Errorf("failed to insert source %s: %w", src.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sources: %w", err)
	}
	return nil
}

// GetInvestigationSources returns the sources recorded for an investigation.
func (s *Store) GetInvestigationSources(investigationID string) ([]Source, error) {
	rows, err := s.db.Query(`
		SELECT id, investigation_id, title, url, kind
		FROM sources WHERE investigation_id = ? ORDER BY id`, investigationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources for %s: %w", investigationID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.InvestigationID, &src.Title, &src.URL, &src.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source rows error: %w", err)
	}
	return out, nil
}
