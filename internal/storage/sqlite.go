// Package storage archives completed interview outcomes in a SQLite
// database. The archive is single-writer data owned by whichever instance
// completes; the cross-process session registry deliberately stays a plain
// JSON file and never touches this database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the submissions database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "parley.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// SaveSubmission records a completed or cancelled interview.
func (s *Store) SaveSubmission(sub Submission) error {
	if sub.CompletedAt.IsZero() {
		sub.CompletedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, title, cwd, git_branch, reason, answers_json, transcript, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Title, sub.Cwd, sub.GitBranch, sub.Reason,
		sub.AnswersJSON, sub.Transcript, sub.CompletedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSubmission returns one archived interview by id.
func (s *Store) GetSubmission(id string) (Submission, error) {
	var sub Submission
	var completedAt string
	err := s.db.QueryRow(`
		SELECT id, title, cwd, git_branch, reason, answers_json, transcript, completed_at
		FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.Title, &sub.Cwd, &sub.GitBranch, &sub.Reason, &sub.AnswersJSON, &sub.Transcript, &completedAt)
	if err == sql.ErrNoRows {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	t, err := time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return Submission{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	sub.CompletedAt = t
	return sub, nil
}

// ListSubmissions returns archived interviews, newest first.
func (s *Store) ListSubmissions(limit, offset int) ([]Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, title, cwd, git_branch, reason, answers_json, transcript, completed_at
		FROM submissions ORDER BY completed_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		var sub Submission
		var completedAt string
		if err := rows.Scan(&sub.ID, &sub.Title, &sub.Cwd, &sub.GitBranch, &sub.Reason, &sub.AnswersJSON, &sub.Transcript, &completedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		sub.CompletedAt = t
		results = append(results, sub)
	}
	return results, rows.Err()
}

// DeleteSubmission removes one archived interview.
func (s *Store) DeleteSubmission(id string) error {
	res, err := s.db.Exec(`DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
