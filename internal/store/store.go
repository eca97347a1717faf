// Package store is the PostgreSQL persistence layer: users with their
// moderation columns, topics, and messages. Message deletion is a soft
// tombstone so history and moderation audits stay intact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agora/forum-chat/internal/moderation"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Tags recorded in messages.deleted_by.
const (
	DeletedByAuthor = "author"
	DeletedByAdmin  = "admin"
)

// User is an account row. The password hash never leaves this package
// except through CheckPassword-style comparisons done by callers.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Topic is a discussion thread. Closed topics reject new messages from
// non-admins but stay readable.
type Topic struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsClosed    bool      `json:"is_closed"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is a message row. Deleted messages keep their row with the text
// cleared and the tombstone columns set.
type Message struct {
	ID          int64      `json:"id"`
	TopicID     int64      `json:"chat_id"`
	UserID      int64      `json:"user_id"`
	AuthorEmail string     `json:"email,omitempty"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	DeletedBy   string     `json:"deleted_by,omitempty"`
}

// Deleted reports whether the message has been tombstoned.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Store wraps a database handle with the narrow operations the rest of the
// server uses.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations and shutdown.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts an account and returns its id.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, role string) (int64, error) {
	const query = `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, email, passwordHash, role).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	return id, nil
}

// UserByEmail fetches an account by email. Returns ErrNotFound if absent.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE email = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by email: %w", err)
	}
	return &u, nil
}

// UserByID fetches an account by id. Returns ErrNotFound if absent.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by id: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Moderation columns
// ---------------------------------------------------------------------------

// GetModerationStatus reads the user's restriction columns. A missing user
// is ErrNotFound.
func (s *Store) GetModerationStatus(ctx context.Context, userID int64) (moderation.Status, error) {
	const query = `
		SELECT muted_until, banned_until, ban_permanent, ban_reason
		FROM users WHERE id = $1`

	var (
		muted  sql.NullTime
		banned sql.NullTime
		perm   bool
		reason sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&muted, &banned, &perm, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Status{}, ErrNotFound
	}
	if err != nil {
		return moderation.Status{}, fmt.Errorf("store: moderation status: %w", err)
	}

	var status moderation.Status
	if muted.Valid {
		t := muted.Time
		status.MutedUntil = &t
	}
	if banned.Valid {
		t := banned.Time
		status.BannedUntil = &t
	}
	status.BanPermanent = perm
	if reason.Valid {
		status.BanReason = reason.String
	}
	return status, nil
}

// SetMuted records a mute expiry on the user row.
func (s *Store) SetMuted(ctx context.Context, userID int64, until time.Time) error {
	const query = `UPDATE users SET muted_until = $1 WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, until, userID)
	if err != nil {
		return fmt.Errorf("store: set muted: %w", err)
	}
	return requireRow(res)
}

// SetBanned records a ban on the user row. A nil until with permanent set
// is a permanent ban; applying a bounded ban clears any permanent flag.
func (s *Store) SetBanned(ctx context.Context, userID int64, until *time.Time, permanent bool, reason string) error {
	const query = `
		UPDATE users
		SET banned_until = $1, ban_permanent = $2, ban_reason = $3
		WHERE id = $4`

	res, err := s.db.ExecContext(ctx, query, until, permanent, nullIfEmpty(reason), userID)
	if err != nil {
		return fmt.Errorf("store: set banned: %w", err)
	}
	return requireRow(res)
}

// ---------------------------------------------------------------------------
// Topics
// ---------------------------------------------------------------------------

// CreateTopic inserts a topic and returns the committed row.
func (s *Store) CreateTopic(ctx context.Context, name, description string, createdBy int64) (*Topic, error) {
	const query = `
		INSERT INTO topics (name, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	t := Topic{Name: name, Description: description, CreatedBy: createdBy}
	if err := s.db.QueryRowContext(ctx, query, name, description, createdBy).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create topic: %w", err)
	}
	return &t, nil
}

// Topics lists all topics, newest first.
func (s *Store) Topics(ctx context.Context) ([]Topic, error) {
	const query = `
		SELECT id, name, description, is_closed, created_by, created_at
		FROM topics ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.IsClosed, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	return topics, nil
}

// TopicByID fetches one topic. Returns ErrNotFound if absent.
func (s *Store) TopicByID(ctx context.Context, id int64) (*Topic, error) {
	const query = `
		SELECT id, name, description, is_closed, created_by, created_at
		FROM topics WHERE id = $1`

	var t Topic
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.IsClosed, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: topic by id: %w", err)
	}
	return &t, nil
}

// SetTopicClosed flips the closed flag. The UPDATE is idempotent: setting
// the same value twice leaves one consistent row.
func (s *Store) SetTopicClosed(ctx context.Context, id int64, closed bool) error {
	const query = `UPDATE topics SET is_closed = $1 WHERE id = $2`

	res, err := s.db.ExecContext(ctx, query, closed, id)
	if err != nil {
		return fmt.Errorf("store: set topic closed: %w", err)
	}
	return requireRow(res)
}

// DeleteTopic removes a topic; its messages go with it via the FK cascade.
func (s *Store) DeleteTopic(ctx context.Context, id int64) error {
	const query = `DELETE FROM topics WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete topic: %w", err)
	}
	return requireRow(res)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// CreateMessage inserts a message and returns the committed row, so the
// broadcast carries exactly what was stored.
func (s *Store) CreateMessage(ctx context.Context, topicID, userID int64, text string) (*Message, error) {
	const query = `
		INSERT INTO messages (topic_id, user_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	m := Message{TopicID: topicID, UserID: userID, Text: text}
	if err := s.db.QueryRowContext(ctx, query, topicID, userID, text).Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create message: %w", err)
	}
	return &m, nil
}

// MessagesByTopic lists a topic's messages oldest first with the author's
// email joined in. Tombstoned rows are included; their text is empty.
func (s *Store) MessagesByTopic(ctx context.Context, topicID int64) ([]Message, error) {
	const query = `
		SELECT m.id, m.topic_id, m.user_id, u.email, m.text, m.created_at, m.deleted_at, m.deleted_by
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.topic_id = $1
		ORDER BY m.created_at ASC, m.id ASC`

	rows, err := s.db.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			deletedAt sql.NullTime
			deletedBy sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.TopicID, &m.UserID, &m.AuthorEmail, &m.Text, &m.CreatedAt, &deletedAt, &deletedBy); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			m.DeletedAt = &t
		}
		if deletedBy.Valid {
			m.DeletedBy = deletedBy.String
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// MessageByID fetches one message. Returns ErrNotFound if absent.
func (s *Store) MessageByID(ctx context.Context, id int64) (*Message, error) {
	const query = `
		SELECT id, topic_id, user_id, text, created_at, deleted_at, deleted_by
		FROM messages WHERE id = $1`

	var (
		m         Message
		deletedAt sql.NullTime
		deletedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&m.ID, &m.TopicID, &m.UserID, &m.Text, &m.CreatedAt, &deletedAt, &deletedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: message by id: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if deletedBy.Valid {
		m.DeletedBy = deletedBy.String
	}
	return &m, nil
}

// UpdateMessage replaces a message's text. Tombstoned rows cannot be
// edited.
func (s *Store) UpdateMessage(ctx context.Context, id int64, text string) error {
	const query = `
		UPDATE messages SET text = $1
		WHERE id = $2 AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, text, id)
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	return requireRow(res)
}

// SoftDeleteMessage tombstones a message: the text is cleared and the
// deletion recorded. The row itself is never removed. Already-deleted rows
// are left untouched.
func (s *Store) SoftDeleteMessage(ctx context.Context, id int64, deletedBy string) error {
	const query = `
		UPDATE messages
		SET text = '', deleted_at = NOW(), deleted_by = $1
		WHERE id = $2 AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, deletedBy, id)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
