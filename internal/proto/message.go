package proto

import "encoding/json"

// Inbound is the envelope for commands coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSelect         = "select"
	InboundTypeClear          = "clear"
	InboundTypeSend           = "send"
	InboundTypeCreatePersonal = "create_personal"
	InboundTypeCreateGroup    = "create_group"
	InboundTypeRefresh        = "refresh"

	OutboundTypeConversations = "conversations"
	OutboundTypeSelection     = "selection"
	OutboundTypeHistory       = "history"
	OutboundTypeMessage       = "message"
	OutboundTypeError         = "error"
)

// SelectData requests to make a conversation current.
type SelectData struct {
	ConversationID string `json:"conversation_id"`
}

// SendData is a chat message from the client.
type SendData struct {
	Content string `json:"content"`
}

// CreatePersonalData requests a new two-participant conversation.
type CreatePersonalData struct {
	UserID string `json:"user_id"`
}

// CreateGroupData requests a new named group conversation.
type CreateGroupData struct {
	Name    string   `json:"name"`
	UserIDs []string `json:"user_ids"`
}

// Outbound is the envelope for state events sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Sender identifies a message author with display fields.
type Sender struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is a chat message as seen on the wire.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         Sender `json:"sender"`
	Content        string `json:"content"`
	Seq            int64  `json:"seq"`
	TS             int64  `json:"ts"`
}

// LastMessage is the list preview projection.
type LastMessage struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
	TS         int64  `json:"ts"`
}

// Conversation is a conversation summary as seen on the wire.
type Conversation struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	Name         string       `json:"name"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	CreatedTS    int64        `json:"created_ts"`
	UpdatedTS    int64        `json:"updated_ts"`
}

// ConversationsData carries the full conversation list plus the
// loading flag.
type ConversationsData struct {
	Conversations []Conversation `json:"conversations"`
	Loading       bool           `json:"loading"`
}

// SelectionData carries the current selection (nil when cleared).
type SelectionData struct {
	Conversation *Conversation `json:"conversation"`
}

// HistoryData carries the loaded history of the current selection.
type HistoryData struct {
	Messages []Message `json:"messages"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
