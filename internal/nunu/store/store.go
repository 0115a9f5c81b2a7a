// Package store persists Nunu's turn log: one row per triggered message with
// the outcome of the reply attempt. It is an audit trail, not the memory;
// nothing here is read back into the reply pipeline.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome is the final state of a turn.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeReplied    Outcome = "replied"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeBusy       Outcome = "busy"
	OutcomeError      Outcome = "error"
)

// Trigger tells chat-triggered turns from user-initiated asks.
type Trigger string

const (
	TriggerChat Trigger = "chat"
	TriggerAsk  Trigger = "ask"
)

// Turn is one turn_log row.
type Turn struct {
	ID         string
	TraceID    string
	Channel    string
	Sender     string
	Message    string
	Matched    string
	Trigger    Trigger
	Outcome    Outcome
	Reply      string
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Store wraps the SQLite connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the SQLite database at dbPath and runs all pending
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// runMigrations applies any SQL files not yet recorded in schema_migrations.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	_ = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		version, description, ok := parseMigrationName(e.Name())
		if !ok || version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			version, description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", e.Name(), err)
		}
		slog.Info("applied migration", "version", version, "description", description)
	}
	return nil
}

// parseMigrationName splits "0001_turn_log.sql" into (1, "turn_log").
func parseMigrationName(name string) (int, string, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", false
	}
	num, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok {
		return 0, "", false
	}
	var version int
	if _, err := fmt.Sscanf(num, "%d", &version); err != nil {
		return 0, "", false
	}
	return version, desc, true
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// LogTurn inserts a pending turn and returns its id.
func (s *Store) LogTurn(traceID, channel, sender, message, matched string, trigger Trigger) (string, error) {
	id := uuid.NewString()
	if trigger == "" {
		trigger = TriggerChat
	}
	_, err := s.db.Exec(`
		INSERT INTO turn_log (id, trace_id, channel, sender, message, matched, origin, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, traceID, channel, sender, message, matched, string(trigger), string(OutcomePending), s.now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}
	return id, nil
}

// FinishTurn records the outcome of a turn.
func (s *Store) FinishTurn(id string, outcome Outcome, reply, errMsg string, duration time.Duration) error {
	res, err := s.db.Exec(`
		UPDATE turn_log
		SET outcome = ?, reply = ?, error_msg = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		string(outcome), nullableString(reply), nullableString(errMsg), duration.Milliseconds(), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("turn %q not found", id)
	}
	return nil
}

// RecentTurns returns up to limit turns, newest first.
func (s *Store) RecentTurns(limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, trace_id, channel, sender, message, matched, origin, outcome,
		       reply, error_msg, duration_ms, created_at, finished_at
		FROM turn_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t          Turn
			trigger    string
			outcome    string
			reply      sql.NullString
			errMsg     sql.NullString
			durationMS int64
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TraceID, &t.Channel, &t.Sender, &t.Message, &t.Matched,
			&trigger, &outcome, &reply, &errMsg, &durationMS, &t.CreatedAt, &finishedAt); err != nil {
			return nil, err
		}
		t.Trigger = Trigger(trigger)
		t.Outcome = Outcome(outcome)
		t.Reply = reply.String
		t.Error = errMsg.String
		t.Duration = time.Duration(durationMS) * time.Millisecond
		if finishedAt.Valid {
			t.FinishedAt = finishedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of turns per outcome.
func (s *Store) OutcomeCounts() (map[Outcome]int, error) {
	rows, err := s.db.Query("SELECT outcome, COUNT(*) FROM turn_log GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Outcome]int)
	for rows.Next() {
		var (
			o string
			n int
		)
		if err := rows.Scan(&o, &n); err != nil {
			return nil, err
		}
		out[Outcome(o)] = n
	}
	return out, rows.Err()
}

// SaveAppliedPersona records the hash and name of the live persona.
func (s *Store) SaveAppliedPersona(hash, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO applied_persona (id, hash, name, applied_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hash       = excluded.hash,
			name       = excluded.name,
			applied_at = excluded.applied_at
	`, hash, name, s.now())
	return err
}

// LoadAppliedPersona returns the last recorded persona. It returns ("", "",
// nil) when none was recorded.
func (s *Store) LoadAppliedPersona() (hash, name string, err error) {
	err = s.db.QueryRow("SELECT hash, name FROM applied_persona WHERE id = 1").Scan(&hash, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return hash, name, err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
