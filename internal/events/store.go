// Package events persists pipeline decisions to SQLite. The store is the
// system's training corpus: every decision the pipeline makes lands here,
// redacted, and the distillation loop reads it back in timestamp order.
package events

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/intale-ai/intentd/internal/intent"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const dayFormat = "2006-01-02"

// Store wraps a SQLite database holding decision events.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the event database in dataDir and runs pending
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
		dsn = filepath.Join(dataDir, "intentd.db")
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

// Append persists one event, assigning an ID and timestamp when unset. A
// transient write failure is retried once before the error is returned;
// callers treat a failed append as a dropped event, never a failed request.
func (s *Store) Append(ev DecisionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	err := s.insert(ev)
	if err != nil {
		err = s.insert(ev)
	}
	if err != nil {
		return fmt.Errorf("appending event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *Store) insert(ev DecisionEvent) error {
	oracleJSON, err := marshalResult(ev.Oracle)
	if err != nil {
		return err
	}
	localJSON, err := marshalResult(ev.Local)
	if err != nil {
		return err
	}

	contextJSON, err := marshalContext(ev.Context)
	if err != nil {
		return err
	}

	ts := ev.Timestamp.UTC()
	_, err = s.db.Exec(`
		INSERT INTO decision_events (id, ts, day, input_text, input_hash, text_length, context_json,
			oracle_json, local_json, final_intent, final_confidence, final_source,
			latency_ms, agreement, confidence_gap, background)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ts.Format(time.RFC3339Nano), ts.Format(dayFormat), ev.Text, ev.TextHash,
		ev.TextLength, contextJSON, oracleJSON, localJSON,
		ev.Final.Intent, ev.Final.Confidence, string(ev.Final.Source),
		ev.LatencyMs, nullBool(ev.Agreement), nullFloat(ev.ConfidenceGap), ev.Background,
	)
	return err
}

// ForEach streams events no older than maxAgeDays (0 means all) to fn in
// ascending timestamp order. fn returning an error stops the scan.
func (s *Store) ForEach(maxAgeDays int, fn func(DecisionEvent) error) error {
	query := `SELECT id, ts, input_text, input_hash, text_length, context_json,
		oracle_json, local_json, final_intent, final_confidence, final_source,
		latency_ms, agreement, confidence_gap, background
		FROM decision_events`
	var args []any
	if maxAgeDays > 0 {
		query += " WHERE day >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(dayFormat))
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanEvent(rows *sql.Rows) (DecisionEvent, error) {
	var ev DecisionEvent
	var ts, source string
	var contextJSON, oracleJSON, localJSON sql.NullString
	var agreement sql.NullBool
	var gap sql.NullFloat64

	if err := rows.Scan(&ev.ID, &ts, &ev.Text, &ev.TextHash, &ev.TextLength, &contextJSON,
		&oracleJSON, &localJSON, &ev.Final.Intent, &ev.Final.Confidence, &source,
		&ev.LatencyMs, &agreement, &gap, &ev.Background); err != nil {
		return DecisionEvent{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("parsing ts for event %s: %w", ev.ID, err)
	}
	ev.Timestamp = parsed
	ev.Final.Source = intent.Source(source)

	if ev.Oracle, err = unmarshalResult(oracleJSON); err != nil {
		return DecisionEvent{}, fmt.Errorf("parsing oracle_json for event %s: %w", ev.ID, err)
	}
	if ev.Local, err = unmarshalResult(localJSON); err != nil {
		return DecisionEvent{}, fmt.Errorf("parsing local_json for event %s: %w", ev.ID, err)
	}
	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &ev.Context); err != nil {
			return DecisionEvent{}, fmt.Errorf("parsing context_json for event %s: %w", ev.ID, err)
		}
	}
	if agreement.Valid {
		ev.Agreement = &agreement.Bool
	}
	if gap.Valid {
		ev.ConfidenceGap = &gap.Float64
	}
	return ev, nil
}

// Prune deletes events older than maxDays and reports how many were removed.
func (s *Store) Prune(maxDays int) (int64, error) {
	if maxDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxDays).Format(dayFormat)
	res, err := s.db.Exec("DELETE FROM decision_events WHERE day < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of stored events.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM decision_events").Scan(&n)
	return n, err
}

// Stats summarizes the stored corpus.
type Stats struct {
	TotalEvents      int64            `json:"total_events"`
	Days             int64            `json:"days"`
	BySource         map[string]int64 `json:"by_source"`
	ByIntent         map[string]int64 `json:"by_intent"`
	AgreementRate    *float64         `json:"agreement_rate,omitempty"`
	ComparableEvents int64            `json:"comparable_events"`
	BackgroundEvents int64            `json:"background_events"`
	OldestDay        string           `json:"oldest_day,omitempty"`
	NewestDay        string           `json:"newest_day,omitempty"`
}

// CollectStats computes aggregate statistics over all stored events.
func (s *Store) CollectStats() (Stats, error) {
	st := Stats{BySource: make(map[string]int64), ByIntent: make(map[string]int64)}

	err := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT day),
		COALESCE(MIN(day), ''), COALESCE(MAX(day), ''),
		COALESCE(SUM(background), 0)
		FROM decision_events`).
		Scan(&st.TotalEvents, &st.Days, &st.OldestDay, &st.NewestDay, &st.BackgroundEvents)
	if err != nil {
		return Stats{}, err
	}

	if err := s.countInto("final_source", st.BySource); err != nil {
		return Stats{}, err
	}
	if err := s.countInto("final_intent", st.ByIntent); err != nil {
		return Stats{}, err
	}

	var comparable, agreed int64
	err = s.db.QueryRow(`SELECT COUNT(agreement), COALESCE(SUM(agreement), 0)
		FROM decision_events WHERE agreement IS NOT NULL`).Scan(&comparable, &agreed)
	if err != nil {
		return Stats{}, err
	}
	st.ComparableEvents = comparable
	if comparable > 0 {
		rate := float64(agreed) / float64(comparable)
		st.AgreementRate = &rate
	}
	return st, nil
}

func (s *Store) countInto(column string, dest map[string]int64) error {
	rows, err := s.db.Query("SELECT " + column + ", COUNT(*) FROM decision_events GROUP BY " + column)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dest[key] = n
	}
	return rows.Err()
}

func marshalResult(r *intent.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func marshalContext(ctx map[string]string) (sql.NullString, error) {
	if len(ctx) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling context: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalResult(ns sql.NullString) (*intent.Result, error) {
	if !ns.Valid {
		return nil, nil
	}
	var r intent.Result
	if err := json.Unmarshal([]byte(ns.String), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
