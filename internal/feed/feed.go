package feed

import "sync"

// InsertEvent notifies subscribers that a message row was inserted into
// a conversation. Carries only identifiers; consumers re-fetch the row.
type InsertEvent struct {
	ConversationID string
	MessageID      string
	Seq            int64
}

const subscriptionBuffer = 16

// Subscription is a handle to a per-conversation push channel. Close
// releases it and is safe to call more than once and from any path.
type Subscription struct {
	C <-chan InsertEvent

	feed           *Feed
	conversationID string
	ch             chan InsertEvent
	once           sync.Once
}

// ConversationID returns the conversation this subscription is scoped to.
func (s *Subscription) ConversationID() string {
	return s.conversationID
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.unsubscribe(s)
		close(s.ch)
	})
}

// Feed is an in-process row-insert notification broker. It stands in
// for the remote store's push channel: one logical channel per
// conversation, delivering insert events without polling.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New constructs an empty feed.
func New() *Feed {
	return &Feed{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a push channel scoped to one conversation.
func (f *Feed) Subscribe(conversationID string) *Subscription {
	ch := make(chan InsertEvent, subscriptionBuffer)
	sub := &Subscription{
		C:              ch,
		feed:           f,
		conversationID: conversationID,
		ch:             ch,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[conversationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers an insert event to every subscription scoped to the
// event's conversation.
func (f *Feed) Publish(ev InsertEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[ev.ConversationID] {
		select {
		case sub.ch <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

// SubscriberCount reports how many subscriptions are active for a
// conversation.
func (f *Feed) SubscriberCount(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[conversationID])
}

func (f *Feed) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[sub.conversationID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, sub.conversationID)
	}
}
