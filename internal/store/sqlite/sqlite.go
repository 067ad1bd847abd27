package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ndenisov/chatsync/internal/feed"
	"github.com/ndenisov/chatsync/internal/store"
)

// SQLiteStore implements store.Store for SQLite. Message inserts are
// published to the feed after commit, giving subscribers the row-level
// push notifications the synchronizer listens for.
type SQLiteStore struct {
	db   *sql.DB
	feed *feed.Feed
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string, f *feed.Feed) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, feed: f}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function
// after the schema is applied. Useful for tests to seed fixtures.
func NewWithSetup(dbPath string, f *feed.Feed, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath, f)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ProfileStore implementation ====

// CreateProfile creates a new profile with hashed password.
func (s *SQLiteStore) CreateProfile(ctx context.Context, username, passwordHash, avatarURL string) (*store.Profile, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO profiles (id, username, password_hash, avatar_url)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash, avatarURL); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	return s.GetProfileByID(ctx, id)
}

// GetProfileByID retrieves a profile by ID.
func (s *SQLiteStore) GetProfileByID(ctx context.Context, id string) (*store.Profile, error) {
	query := `
		SELECT id, username, password_hash, avatar_url, created_at
		FROM profiles
		WHERE id = ?
	`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, id))
}

// GetProfileByUsername retrieves a profile by username.
func (s *SQLiteStore) GetProfileByUsername(ctx context.Context, username string) (*store.Profile, error) {
	query := `
		SELECT id, username, password_hash, avatar_url, created_at
		FROM profiles
		WHERE username = ?
	`
	return s.scanProfile(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanProfile(row *sql.Row) (*store.Profile, error) {
	var p store.Profile
	err := row.Scan(&p.ID, &p.Username, &p.PasswordHash, &p.AvatarURL, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &p, nil
}

// SearchProfiles searches profiles by username substring, excluding the
// given user.
func (s *SQLiteStore) SearchProfiles(ctx context.Context, query, excludeUserID string) ([]*store.Profile, error) {
	q := `
		SELECT id, username, password_hash, avatar_url, created_at
		FROM profiles
		WHERE username LIKE ? AND id != ?
		ORDER BY username ASC
		LIMIT 50
	`
	rows, err := s.db.QueryContext(ctx, q, "%"+query+"%", excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*store.Profile
	for rows.Next() {
		var p store.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.PasswordHash, &p.AvatarURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}

	return profiles, rows.Err()
}

// ==== ConversationStore implementation ====

// CreateConversation creates a conversation together with its
// participant rows in a single transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, kind store.ConversationKind, name *string, participantIDs []string) (*store.Conversation, error) {
	participantIDs = dedupeIDs(participantIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id := uuid.NewString()
	query := `
		INSERT INTO conversations (id, kind, name)
		VALUES (?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, string(kind), name); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	memberQuery := `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES (?, ?)
	`
	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, id, userID); err != nil {
			return nil, fmt.Errorf("insert participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetConversationByID(ctx, id)
}

// dedupeIDs drops duplicate ids preserving first-seen order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// GetConversationByID retrieves a conversation by ID.
func (s *SQLiteStore) GetConversationByID(ctx context.Context, id string) (*store.Conversation, error) {
	query := `
		SELECT id, kind, name, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	var c store.Conversation
	var kind string
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &kind, &name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	c.Kind = store.ConversationKind(kind)
	if name.Valid {
		c.Name = &name.String
	}
	return &c, nil
}

// ListConversations lists conversations the user participates in,
// joined with participants and last-message preview, ordered by
// last-update descending.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.updated_at DESC, c.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*store.ConversationSummary
	for rows.Next() {
		var c store.Conversation
		var kind string
		var name sql.NullString
		if err := rows.Scan(&c.ID, &kind, &name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.Kind = store.ConversationKind(kind)
		if name.Valid {
			c.Name = &name.String
		}
		summaries = append(summaries, &store.ConversationSummary{Conversation: c})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, summary := range summaries {
		participants, err := s.ListParticipants(ctx, summary.ID)
		if err != nil {
			return nil, err
		}
		summary.Participants = participants

		last, err := s.lastMessage(ctx, summary.ID)
		if err != nil {
			return nil, err
		}
		summary.LastMessage = last
	}

	return summaries, nil
}

func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID string) (*store.LastMessage, error) {
	query := `
		SELECT m.content, p.username, m.created_at
		FROM messages m
		JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT 1
	`
	var last store.LastMessage
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&last.Content, &last.SenderName, &last.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no messages yet
		}
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return &last, nil
}

// ListParticipants lists the participant set of a conversation.
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID string) ([]store.Participant, error) {
	query := `
		SELECT conversation_id, user_id, joined_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// IsParticipant checks membership.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and bumps the owning conversation's
// updated_at in the same transaction. The store assigns ID, Seq and
// CreatedAt. Subscribers are notified after commit.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	bump := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, bump, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("bump conversation updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	msg.Seq = seq

	if s.feed != nil {
		s.feed.Publish(feed.InsertEvent{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Seq:            seq,
		})
	}

	return nil
}

// ListMessages retrieves the full history of a conversation joined with
// author display fields, ordered ascending by (created_at, seq).
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*store.MessageView, error) {
	query := `
		SELECT m.seq, m.id, m.conversation_id, m.sender_id, m.content, m.created_at,
		       p.username, p.avatar_url
		FROM messages m
		JOIN profiles p ON p.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.MessageView
	for rows.Next() {
		var mv store.MessageView
		if err := rows.Scan(
			&mv.Seq,
			&mv.ID,
			&mv.ConversationID,
			&mv.SenderID,
			&mv.Content,
			&mv.CreatedAt,
			&mv.SenderName,
			&mv.SenderAvatarURL,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &mv)
	}

	return messages, rows.Err()
}

// GetMessageView retrieves a single message by ID joined with author
// display fields.
func (s *SQLiteStore) GetMessageView(ctx context.Context, id string) (*store.MessageView, error) {
	query := `
		SELECT m.seq, m.id, m.conversation_id, m.sender_id, m.content, m.created_at,
		       p.username, p.avatar_url
		FROM messages m
		JOIN profiles p ON p.id = m.sender_id
		WHERE m.id = ?
	`
	var mv store.MessageView
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&mv.Seq,
		&mv.ID,
		&mv.ConversationID,
		&mv.SenderID,
		&mv.Content,
		&mv.CreatedAt,
		&mv.SenderName,
		&mv.SenderAvatarURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &mv, nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
