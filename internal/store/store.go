package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Profile represents a registered identity.
type Profile struct {
	ID           string // UUID
	Username     string
	PasswordHash string
	AvatarURL    string
	CreatedAt    time.Time
}

// ConversationKind defines the two conversation shapes.
type ConversationKind string

const (
	ConversationPersonal ConversationKind = "personal"
	ConversationGroup    ConversationKind = "group"
)

// Conversation represents a personal or group chat.
type Conversation struct {
	ID        string // UUID
	Kind      ConversationKind
	Name      *string // nil for personal conversations
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the conversation name, falling back to the
// derived title for personal conversations.
func (c *Conversation) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return "Personal Chat"
}

// Participant represents conversation membership.
type Participant struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
}

// Message represents a persisted chat message.
// Seq is the store-assigned insertion sequence and breaks ties between
// messages sharing an identical creation timestamp.
type Message struct {
	Seq            int64
	ID             string // UUID
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// MessageView is a message joined with its author's display fields.
type MessageView struct {
	Message
	SenderName      string
	SenderAvatarURL string
}

// LastMessage is the denormalized one-row projection shown in
// conversation list previews. Derived, not authoritative.
type LastMessage struct {
	Content    string
	SenderName string
	CreatedAt  time.Time
}

// ConversationSummary is a conversation joined with its participant set
// and last-message preview, as consumed by the list view.
type ConversationSummary struct {
	Conversation
	Participants []Participant
	LastMessage  *LastMessage
}

// ProfileStore handles identity persistence.
type ProfileStore interface {
	// CreateProfile creates a new profile with hashed password.
	CreateProfile(ctx context.Context, username, passwordHash, avatarURL string) (*Profile, error)

	// GetProfileByID retrieves a profile by ID.
	GetProfileByID(ctx context.Context, id string) (*Profile, error)

	// GetProfileByUsername retrieves a profile by username.
	GetProfileByUsername(ctx context.Context, username string) (*Profile, error)

	// SearchProfiles searches profiles by username substring, excluding
	// the given user. Used by the create-chat dialog.
	SearchProfiles(ctx context.Context, query, excludeUserID string) ([]*Profile, error)
}

// ConversationStore handles conversation and membership persistence.
type ConversationStore interface {
	// CreateConversation creates a conversation together with its
	// participant rows in a single transaction. The creator must be
	// included in participantIDs by the caller.
	CreateConversation(ctx context.Context, kind ConversationKind, name *string, participantIDs []string) (*Conversation, error)

	// GetConversationByID retrieves a conversation by ID.
	GetConversationByID(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists conversations the user participates in,
	// joined with participants and last-message preview, ordered by
	// last-update descending.
	ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// ListParticipants lists the participant set of a conversation.
	ListParticipants(ctx context.Context, conversationID string) ([]Participant, error)

	// IsParticipant checks membership.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and bumps the owning
	// conversation's updated_at. Fills in Seq, ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves the full history of a conversation joined
	// with author display fields, ordered ascending by (created_at, seq).
	ListMessages(ctx context.Context, conversationID string) ([]*MessageView, error)

	// GetMessageView retrieves a single message by ID joined with
	// author display fields. Used by the live-push delivery path.
	GetMessageView(ctx context.Context, id string) (*MessageView, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ProfileStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
