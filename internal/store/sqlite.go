package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// Serializes session writes so append/replace on one session cannot
	// interleave and trip SQLITE_BUSY under WAL.
	sessionMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT,
		sme_configs_json TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		message_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

	CREATE TABLE IF NOT EXISTS vault_items (
		id TEXT PRIMARY KEY,
		item_json TEXT NOT NULL,
		origin TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vault_origin ON vault_items(origin);

	CREATE TABLE IF NOT EXISTS vault_categories (
		name TEXT PRIMARY KEY,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS safety_keywords (
		keyword TEXT PRIMARY KEY COLLATE NOCASE
	);

	CREATE TABLE IF NOT EXISTS flagged_prompts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		detection_method TEXT NOT NULL,
		details TEXT NOT NULL,
		action_taken TEXT NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flags_user_ts ON flagged_prompts(user_id, ts);

	CREATE TABLE IF NOT EXISTS user_profiles (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession persists a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	smeJSON, err := json.Marshal(session.SmeConfigs)
	if err != nil {
		return fmt.Errorf("marshal sme configs: %w", err)
	}
	participantsJSON, err := json.Marshal(session.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}

	now := time.Now()
	if session.LastModified.IsZero() {
		session.LastModified = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, title, sme_configs_json, participants_json, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.SessionID, nullableString(session.Title), string(smeJSON), string(participantsJSON),
		session.LastModified.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i := range session.Messages {
		if err := insertMessage(ctx, tx, session.SessionID, i, &session.Messages[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its full message list.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, title, sme_configs_json, participants_json, last_modified
		FROM sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session.Messages, err = s.listMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions retrieves all sessions with messages, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, title, sme_configs_json, participants_json, last_modified
		FROM sessions ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, session := range sessions {
		session.Messages, err = s.listMessages(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// DeleteSession removes a session and its messages. Retries with
// exponential backoff when the delete races a streaming write and hits
// SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.deleteSessionOnce(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("DeleteSession hit SQLITE_BUSY, retrying",
			"session_id", sessionID, "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("delete session %s: %w", sessionID, err)
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// AppendMessage appends a message to the session's ordered list.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq)+1, 0) FROM messages WHERE session_id = ?`, sessionID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("next message seq: %w", err)
	}

	if err := insertMessage(ctx, tx, sessionID, next, msg); err != nil {
		return err
	}
	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append message: %w", err)
	}
	return nil
}

// ReplaceLastMessage overwrites the final message of the session.
// A session with no messages is a silent no-op.
func (s *SQLiteStore) ReplaceLastMessage(ctx context.Context, sessionID string, msg *domain.Message) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET message_json = ?
		WHERE session_id = ? AND seq = (SELECT MAX(seq) FROM messages WHERE session_id = ?)`,
		string(msgJSON), sessionID, sessionID)
	if err != nil {
		return fmt.Errorf("replace last message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Empty message list: nothing to replace.
		return nil
	}

	if err := touchSession(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace message: %w", err)
	}
	return nil
}

// ReplaceMessageAt overwrites the message at the given position.
func (s *SQLiteStore) ReplaceMessageAt(ctx context.Context, sessionID string, index int, msg *domain.Message) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	// seq values are dense (0..n-1) because appends derive the next seq
	// from MAX(seq)+1 and deletes are whole-session only, so position
	// equals seq.
	_, err = s.db.ExecContext(ctx, `
		UPDATE messages SET message_json = ?
		WHERE session_id = ? AND seq = ?`,
		string(msgJSON), sessionID, index)
	if err != nil {
		return fmt.Errorf("replace message at %d: %w", index, err)
	}
	return nil
}

// UpdateTitle sets the session title.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, last_modified = ? WHERE session_id = ?`,
		nullableString(title), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// SetSmeConfigs replaces the session's expert list.
func (s *SQLiteStore) SetSmeConfigs(ctx context.Context, sessionID string, configs []domain.SmeConfig) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	data, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("marshal sme configs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET sme_configs_json = ?, last_modified = ? WHERE session_id = ?`,
		string(data), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("set sme configs: %w", err)
	}
	return nil
}

// SetParticipants replaces the session's participant set.
func (s *SQLiteStore) SetParticipants(ctx context.Context, sessionID string, participants []domain.UserProfile) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET participants_json = ?, last_modified = ? WHERE session_id = ?`,
		string(data), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("set participants: %w", err)
	}
	return nil
}

// SaveVaultItem creates or updates a vault item.
func (s *SQLiteStore) SaveVaultItem(ctx context.Context, item *domain.VaultItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal vault item: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_items (id, item_json, origin, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			item_json = excluded.item_json,
			origin = excluded.origin`,
		item.ID, string(data), item.Origin, item.SavedAt)
	if err != nil {
		return fmt.Errorf("save vault item: %w", err)
	}
	return nil
}

// ListVaultItems retrieves all vault items, newest first.
func (s *SQLiteStore) ListVaultItems(ctx context.Context) ([]*domain.VaultItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_json FROM vault_items ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query vault items: %w", err)
	}
	defer closeRows(rows, "vault items")

	var items []*domain.VaultItem
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan vault item: %w", err)
		}
		var item domain.VaultItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("unmarshal vault item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault items: %w", err)
	}
	return items, nil
}

// DeleteVaultItem removes one vault item.
func (s *SQLiteStore) DeleteVaultItem(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_items WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("delete vault item: %w", err)
	}
	return nil
}

// DeleteVaultItemsByOrigin removes every item imported from an origin.
func (s *SQLiteStore) DeleteVaultItemsByOrigin(ctx context.Context, origin string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM vault_items WHERE origin = ?`, origin)
	if err != nil {
		return 0, fmt.Errorf("delete vault items by origin: %w", err)
	}
	return result.RowsAffected()
}

// ListCategories returns vault categories in saved order.
func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT name FROM vault_categories ORDER BY position`)
}

// SaveCategories replaces the category list.
func (s *SQLiteStore) SaveCategories(ctx context.Context, categories []string) error {
	return s.replaceStrings(ctx, "vault_categories",
		`INSERT INTO vault_categories (name, position) VALUES (?, ?)`, categories, true)
}

// ListKeywords returns the moderation keyword list.
func (s *SQLiteStore) ListKeywords(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT keyword FROM safety_keywords ORDER BY keyword`)
}

// SaveKeywords replaces the moderation keyword list.
func (s *SQLiteStore) SaveKeywords(ctx context.Context, keywords []string) error {
	return s.replaceStrings(ctx, "safety_keywords",
		`INSERT OR IGNORE INTO safety_keywords (keyword) VALUES (?)`, keywords, false)
}

// LogFlaggedPrompt records a moderation event.
func (s *SQLiteStore) LogFlaggedPrompt(ctx context.Context, flag *domain.FlaggedPrompt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flagged_prompts (id, user_id, prompt, detection_method, details, action_taken, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		flag.ID, flag.UserID, flag.Prompt, string(flag.DetectionMethod),
		flag.Details, string(flag.ActionTaken), flag.Timestamp)
	if err != nil {
		return fmt.Errorf("log flagged prompt: %w", err)
	}
	return nil
}

// ListFlaggedPrompts returns moderation events, newest first.
func (s *SQLiteStore) ListFlaggedPrompts(ctx context.Context) ([]*domain.FlaggedPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, prompt, detection_method, details, action_taken, ts
		FROM flagged_prompts ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("query flagged prompts: %w", err)
	}
	defer closeRows(rows, "flagged prompts")

	var flags []*domain.FlaggedPrompt
	for rows.Next() {
		var flag domain.FlaggedPrompt
		var method, action string
		if err := rows.Scan(&flag.ID, &flag.UserID, &flag.Prompt, &method, &flag.Details, &action, &flag.Timestamp); err != nil {
			return nil, fmt.Errorf("scan flagged prompt: %w", err)
		}
		flag.DetectionMethod = domain.DetectionMethod(method)
		flag.ActionTaken = domain.FlagAction(action)
		flags = append(flags, &flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flagged prompts: %w", err)
	}
	return flags, nil
}

// CountRecentFlags counts a user's moderation events since the cutoff.
func (s *SQLiteStore) CountRecentFlags(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flagged_prompts WHERE user_id = ? AND ts >= ?`,
		userID, since.UnixMilli())
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count recent flags: %w", err)
	}
	return count, nil
}

// GetProfile retrieves a user profile by email.
func (s *SQLiteStore) GetProfile(ctx context.Context, email string) (*domain.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT email, name FROM user_profiles WHERE email = ?`, email)

	var profile domain.UserProfile
	err := row.Scan(&profile.Email, &profile.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user profile: %w", err)
	}
	return &profile, nil
}

// SaveProfile creates or updates a user profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, profile *domain.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (email, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		profile.Email, profile.Name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save user profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_json FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var messages []domain.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) listStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query strings: %w", err)
	}
	defer closeRows(rows, "strings")

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate string rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) replaceStrings(ctx context.Context, table, insert string, values []string, withPosition bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for i, v := range values {
		var execErr error
		if withPosition {
			_, execErr = tx.ExecContext(ctx, insert, v, i)
		} else {
			_, execErr = tx.ExecContext(ctx, insert, v)
		}
		if execErr != nil {
			return fmt.Errorf("insert into %s: %w", table, execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", table, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, seq int, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, message_json, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, seq, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_modified = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var title sql.NullString
	var smeJSON, participantsJSON string
	var lastModified int64

	if err := row.Scan(&session.SessionID, &title, &smeJSON, &participantsJSON, &lastModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Title = title.String
	session.LastModified = time.Unix(lastModified, 0)
	if err := json.Unmarshal([]byte(smeJSON), &session.SmeConfigs); err != nil {
		return nil, fmt.Errorf("unmarshal sme configs: %w", err)
	}
	if err := json.Unmarshal([]byte(participantsJSON), &session.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	return &session, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "table", what, "error", err)
	}
}
