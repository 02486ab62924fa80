package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dhruvshrma/persona-flow/internal/agent"
	"github.com/dhruvshrma/persona-flow/internal/persona"
)

// DefaultDSN keeps the store entirely in process memory. Session state
// is process-lifetime only; nothing survives a restart.
const DefaultDSN = "file:personaflow?mode=memory&cache=shared"

// Session is one (goal, target API, persona set) unit of work.
type Session struct {
	ID          string            `json:"session_id"`
	Status      string            `json:"status"`
	Goal        string            `json:"test_goal"`
	APIURL      string            `json:"api_url"`
	MaxSteps    int               `json:"max_steps"`
	Personas    []persona.Persona `json:"personas"`
	Report      string            `json:"final_report,omitempty"`
	Results     []agent.Outcome   `json:"test_results,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt time.Time         `json:"completed_at,omitzero"`
}

// Store persists sessions and their event logs in SQLite. One Store is
// shared by the running session (single writer per session) and any
// number of status-polling readers; database/sql provides the required
// visibility guarantees.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a session store. An empty dsn uses
// [DefaultDSN].
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	// In-memory databases vanish when their last connection closes;
	// keeping one connection alive keeps the store alive.
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		goal TEXT NOT NULL,
		api_url TEXT NOT NULL,
		max_steps INTEGER NOT NULL,
		personas TEXT NOT NULL,
		report TEXT NOT NULL DEFAULT '',
		results TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		persona TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_session_logs_session
		ON session_logs(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new session record.
func (s *Store) Create(sess *Session) error {
	personas, err := json.Marshal(sess.Personas)
	if err != nil {
		return fmt.Errorf("marshal personas: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, status, goal, api_url, max_steps, personas, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Status, sess.Goal, sess.APIURL, sess.MaxSteps, string(personas),
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a session by ID, or sql.ErrNoRows if unknown.
func (s *Store) Get(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, status, goal, api_url, max_steps, personas, report, results, created_at,
		       COALESCE(completed_at, '')
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var personasJSON, resultsJSON, createdAt, completedAt string
	err := row.Scan(&sess.ID, &sess.Status, &sess.Goal, &sess.APIURL, &sess.MaxSteps,
		&personasJSON, &sess.Report, &resultsJSON, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sess.CreatedAt = t
	}

	if err := json.Unmarshal([]byte(personasJSON), &sess.Personas); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &sess.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if completedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			sess.CompletedAt = t
		}
	}
	return &sess, nil
}

// Exists reports whether a session ID is known.
func (s *Store) Exists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus updates a session's status.
func (s *Store) SetStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	return err
}

// SetResults records the final report and per-persona outcomes and
// stamps the completion time.
func (s *Store) SetResults(id, report string, results []agent.Outcome) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE sessions SET report = ?, results = ?, completed_at = ? WHERE id = ?`,
		report, string(resultsJSON), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	return err
}

// AppendLog persists one event at the end of the session's log.
func (s *Store) AppendLog(ev Event) error {
	var data string
	if ev.Data != nil {
		encoded, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = string(encoded)
	}

	_, err := s.db.Exec(`
		INSERT INTO session_logs (session_id, timestamp, persona, type, message, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.PersonaName, ev.Type, ev.Message, data,
	)
	return err
}

// Logs returns a session's events in insertion order.
func (s *Store) Logs(sessionID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, persona, type, message, data
		FROM session_logs WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var timestamp, data string
		if err := rows.Scan(&timestamp, &ev.PersonaName, &ev.Type, &ev.Message, &data); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			ev.Timestamp = t
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LogCount returns the number of events logged for a session.
func (s *Store) LogCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM session_logs WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
