package chat

import (
	"sync"

	"github.com/ndenisov/chatsync/internal/store"
)

// EventKind is a state-change notification the synchronizer publishes
// to its observers.
type EventKind int

const (
	// EventConversations signals that the conversation list was replaced.
	EventConversations EventKind = iota
	// EventSelection signals that the current selection changed
	// (Conversation is nil when the selection was cleared).
	EventSelection
	// EventHistory signals that the message history of the current
	// selection was loaded.
	EventHistory
	// EventMessage signals that a live-pushed message was appended to
	// the current history.
	EventMessage
)

// Event describes a state change in the synchronizer.
type Event struct {
	Kind          EventKind
	Conversations []*store.ConversationSummary // for EventConversations
	Conversation  *store.ConversationSummary   // for EventSelection
	Messages      []*store.MessageView         // for EventHistory
	Message       *store.MessageView           // for EventMessage
}

const observerBuffer = 32

// Observer receives state-change events. Close releases it; a closed
// observer stops receiving and its channel is closed.
type Observer struct {
	C <-chan Event

	s    *Synchronizer
	ch   chan Event
	once sync.Once
}

// Close unregisters the observer and closes its channel. Safe to call
// more than once, and after the synchronizer itself was closed.
func (o *Observer) Close() {
	o.s.removeObserver(o)
	o.closeChan()
}

func (o *Observer) closeChan() {
	o.once.Do(func() {
		close(o.ch)
	})
}
