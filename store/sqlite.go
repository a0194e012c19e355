package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/debriefhq/debrief/history"
	"github.com/debriefhq/debrief/model"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of ConversationStore.
// Each conversation is one row; the message log is a single encoded blob
// owned by the history codec. Appends re-encode the whole log, so they are
// serialized per conversation through a lock table.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	convLocks *lockTable
	spyLocks  *lockTable
}

// NewSQLiteStore creates a new SQLite conversation store.
// If dbPath is empty, ":memory:" is used. For file-based storage the parent
// directory is created if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database is private to each pooled connection; cap the
	// pool at one so every caller sees the same database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:        db,
		path:      dbPath,
		convLocks: newLockTable(),
		spyLocks:  newLockTable(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		spy_id TEXT NOT NULL,
		messages TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_spy_id ON conversations(spy_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create allocates a new empty conversation for a spy
func (s *SQLiteStore) Create(spyID string) (*model.Conversation, error) {
	conv := model.NewConversation(spyID)
	if err := s.insert(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) insert(conv *model.Conversation) error {
	blob, err := history.Encode(conv.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (conversation_id, spy_id, messages, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.SpyID, string(blob), conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID
func (s *SQLiteStore) Get(conversationID string) (*model.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT conversation_id, spy_id, messages, created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`, conversationID)
	return scanConversation(row)
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv    model.Conversation
		blob    string
		created int64
		updated int64
	)
	err := row.Scan(&conv.ID, &conv.SpyID, &blob, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.Messages = history.Decode([]byte(blob))
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)
	return &conv, nil
}

// GetOrCreateForSpy returns the most-recently-updated conversation for a
// spy, creating one if none exists. Serialized per spy.
func (s *SQLiteStore) GetOrCreateForSpy(spyID string) (*model.Conversation, error) {
	lock := s.spyLocks.get(spyID)
	lock.Lock()
	defer lock.Unlock()

	row := s.db.QueryRow(
		`SELECT conversation_id, spy_id, messages, created_at, updated_at
		 FROM conversations WHERE spy_id = ?
		 ORDER BY updated_at DESC LIMIT 1`, spyID)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Create(spyID)
}

// Append atomically extends a conversation's message log. The stored form is
// a single blob, so this is a read-modify-write serialized per conversation.
func (s *SQLiteStore) Append(conversationID string, msgs ...model.Message) error {
	lock := s.convLocks.get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.Get(conversationID)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, msgs...)
	blob, err := history.Encode(conv.Messages)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE conversations SET messages = ?, updated_at = ? WHERE conversation_id = ?`,
		string(blob), time.Now().UnixNano(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation, reporting whether it existed
func (s *SQLiteStore) Delete(conversationID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListBySpy returns all conversations for a spy, newest first
func (s *SQLiteStore) ListBySpy(spyID string) ([]*model.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, spy_id, messages, created_at, updated_at
		 FROM conversations WHERE spy_id = ?
		 ORDER BY updated_at DESC`, spyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// List returns conversations ordered newest first, with pagination
func (s *SQLiteStore) List(skip, limit int) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT conversation_id, spy_id, messages, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]*model.Conversation, error) {
	out := []*model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
