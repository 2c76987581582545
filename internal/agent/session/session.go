// Package session persists conversation history in a local SQLite database.
// Each session is keyed by a caller-chosen string ("default" when the caller
// names none, one key per client conversation on the HTTP surface) and holds
// an ordered message log. Tool calls and tool results are stored as JSON
// alongside the message they belong to so history can be replayed or
// inspected later.
package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/openclaw/claw/internal/agent/session/migrations"
	"github.com/openclaw/claw/internal/logging"
)

// ErrNotFound is returned by Get when no session has the requested key.
var ErrNotFound = errors.New("session not found")

// ToolCall records one model-requested tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult records the outcome of one tool invocation.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
}

// Message is a single entry in a session's conversation log.
type Message struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"sessionId"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	ToolCalls   json.RawMessage `json:"toolCalls,omitempty"`
	ToolResults json.RawMessage `json:"toolResults,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Session is a persisted conversation.
type Session struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"sessionKey"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store owns the SQLite connection for session persistence.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the session database at path and runs
// any pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL mode with a single connection. SQLite doesn't handle concurrent
	// writers well, so all access is serialized through one handle.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(1000000000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Infof("[session] store ready at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the session with the given key, creating it on first use.
func (s *Store) GetOrCreate(key string) (*Session, error) {
	if key == "" {
		return nil, fmt.Errorf("session key is required")
	}

	sess, err := s.Get(key)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().Unix()
	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, session_key, message_count, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, key, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:         id,
		SessionKey: key,
		CreatedAt:  time.Unix(now, 0),
		UpdatedAt:  time.Unix(now, 0),
	}, nil
}

// Get returns the session with the given key, or ErrNotFound.
func (s *Store) Get(key string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, session_key, message_count, created_at, updated_at FROM sessions WHERE session_key = ?`,
		key,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// AppendMessage appends one message to a session's log and bumps its
// counters. Messages with no content and no tool data are dropped, nothing
// useful can be replayed from them.
func (s *Store) AppendMessage(sessionID string, msg Message) error {
	if msg.Content == "" && len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0 {
		return nil
	}

	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO session_messages (session_id, role, content, tool_calls, tool_results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, nullableJSON(msg.ToolCalls), nullableJSON(msg.ToolResults), now,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// GetMessages returns a session's messages in chronological order. A positive
// limit returns only the most recent limit messages (still oldest-first).
func (s *Store) GetMessages(sessionID string, limit int) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		// Window to the newest N rows, then flip back to chronological order.
		rows, err = s.db.Query(
			`SELECT id, session_id, role, content, tool_calls, tool_results, created_at FROM (
				SELECT id, session_id, role, content, tool_calls, tool_results, created_at
				FROM session_messages
				WHERE session_id = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id ASC`,
			sessionID, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, session_id, role, content, tool_calls, tool_results, created_at
			 FROM session_messages
			 WHERE session_id = ?
			 ORDER BY id ASC`,
			sessionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m           Message
			toolCalls   sql.NullString
			toolResults sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &toolResults, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			m.ToolCalls = json.RawMessage(toolCalls.String)
		}
		if toolResults.Valid && toolResults.String != "" {
			m.ToolResults = json.RawMessage(toolResults.String)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Reset deletes all of a session's messages and zeroes its counters. The
// session itself survives so the key keeps resolving to the same ID.
func (s *Store) Reset(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET message_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), sessionID,
	); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return tx.Commit()
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, session_key, message_count, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via cascade, its messages. It reports
// whether a session was actually deleted.
func (s *Store) DeleteSession(sessionID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ==== JSON helpers ====================================================

// MarshalToolCalls encodes tool calls for storage. Empty input yields nil so
// the column stays NULL.
func MarshalToolCalls(calls []ToolCall) json.RawMessage {
	if len(calls) == 0 {
		return nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil
	}
	return data
}

// MarshalToolResults encodes tool results for storage.
func MarshalToolResults(results []ToolResult) json.RawMessage {
	if len(results) == 0 {
		return nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return data
}

// DecodeToolCalls parses the message's stored tool calls, if any.
func (m *Message) DecodeToolCalls() ([]ToolCall, error) {
	if len(m.ToolCalls) == 0 {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(m.ToolCalls, &calls); err != nil {
		return nil, fmt.Errorf("failed to decode tool calls: %w", err)
	}
	return calls, nil
}

// DecodeToolResults parses the message's stored tool results, if any.
func (m *Message) DecodeToolResults() ([]ToolResult, error) {
	if len(m.ToolResults) == 0 {
		return nil, nil
	}
	var results []ToolResult
	if err := json.Unmarshal(m.ToolResults, &results); err != nil {
		return nil, fmt.Errorf("failed to decode tool results: %w", err)
	}
	return results, nil
}

func nullableJSON(data json.RawMessage) sql.NullString {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&sess.ID, &sess.SessionKey, &sess.MessageCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}
