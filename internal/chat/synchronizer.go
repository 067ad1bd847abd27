package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ndenisov/chatsync/internal/feed"
	"github.com/ndenisov/chatsync/internal/store"
)

// Domain errors for synchronizer operations.
var (
	ErrNoSelection         = errors.New("no conversation selected")
	ErrEmptyMessage        = errors.New("message content is empty")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrEmptyGroupName      = errors.New("group name is empty")
	ErrNoMembers           = errors.New("group needs at least one member")
	ErrSelfConversation    = errors.New("cannot start a personal chat with yourself")
)

// Synchronizer is the single source of truth for one identity's
// conversation list, selection, and active message history. It mediates
// all reads and writes against the store and owns at most one live feed
// subscription at a time, scoped to the current selection.
//
// Read failures leave state unchanged and are not surfaced; write
// failures propagate to the caller. Overlapping selection changes are
// serialized with cancel-and-supersede semantics: a newer Select wins
// and the superseded one leaves no subscription behind.
type Synchronizer struct {
	store  store.Store
	feed   *feed.Feed
	log    zerolog.Logger
	userID string

	mu            sync.Mutex
	conversations []*store.ConversationSummary
	current       *store.ConversationSummary
	messages      []*store.MessageView
	loading       bool
	closed        bool

	// epoch increments on every selection change; goroutines and
	// fetches started under an older epoch discard their results.
	epoch       uint64
	sub         *feed.Subscription
	cancelWatch context.CancelFunc

	observers map[*Observer]struct{}
}

// NewSynchronizer constructs a synchronizer bound to one identity.
func NewSynchronizer(st store.Store, f *feed.Feed, userID string, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:     st,
		feed:      f,
		log:       logger.With().Str("user_id", userID).Logger(),
		userID:    userID,
		loading:   true,
		observers: make(map[*Observer]struct{}),
	}
}

// UserID returns the identity this synchronizer is bound to.
func (s *Synchronizer) UserID() string {
	return s.userID
}

// Observe registers an observer for state-change events. Slow
// observers drop events rather than block the synchronizer.
func (s *Synchronizer) Observe() *Observer {
	ch := make(chan Event, observerBuffer)
	obs := &Observer{C: ch, s: s, ch: ch}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[obs] = struct{}{}
	return obs
}

func (s *Synchronizer) removeObserver(obs *Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, obs)
}

func (s *Synchronizer) notifyLocked(ev Event) {
	for obs := range s.observers {
		select {
		case obs.ch <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

// Conversations returns the current conversation list.
func (s *Synchronizer) Conversations() []*store.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Current returns the current selection, or nil.
func (s *Synchronizer) Current() *store.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Messages returns the loaded history of the current selection.
func (s *Synchronizer) Messages() []*store.MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.MessageView, len(s.messages))
	copy(out, s.messages)
	return out
}

// Loading reports whether the initial conversation list load is still
// in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LoadConversations fetches the conversation list for the bound
// identity: only conversations it participates in, each joined with
// participants and a last-message preview, ordered by last update
// descending. Fetch errors are logged and swallowed; state is left
// unchanged and the loading flag cleared either way.
func (s *Synchronizer) LoadConversations(ctx context.Context) {
	summaries, err := s.store.ListConversations(ctx, s.userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.log.Warn().Err(err).Msg("load conversations failed")
		return
	}

	s.conversations = summaries

	// Keep the selection pointing at the fresh row for the same id.
	if s.current != nil {
		if refreshed := findConversationLocked(summaries, s.current.ID); refreshed != nil {
			s.current = refreshed
		}
	}

	s.notifyLocked(Event{Kind: EventConversations, Conversations: summaries})
}

func findConversationLocked(list []*store.ConversationSummary, id string) *store.ConversationSummary {
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Select makes the given conversation current. The previous history is
// discarded and its subscription torn down before the new one is
// opened, so exactly one subscription is live while a selection exists.
// The new subscription opens before the history fetch; live events that
// arrive during the fetch are merged in afterwards, which keeps the
// displayed order non-decreasing even across the handoff.
//
// History fetch errors are logged and swallowed: the selection sticks
// with an empty history, matching the read failure policy.
func (s *Synchronizer) Select(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	target := findConversationLocked(s.conversations, conversationID)
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("select %s: %w", conversationID, ErrUnknownConversation)
	}

	s.epoch++
	epoch := s.epoch
	s.teardownLocked()

	s.current = target
	s.messages = nil

	sub := s.feed.Subscribe(conversationID)
	watchCtx, cancel := context.WithCancel(context.Background())
	s.sub = sub
	s.cancelWatch = cancel
	go s.watch(watchCtx, sub, epoch)

	s.notifyLocked(Event{Kind: EventSelection, Conversation: target})
	s.mu.Unlock()

	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("load history failed")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil // superseded by a newer selection
	}

	// Live-pushed messages may have landed while the fetch ran.
	live := s.messages
	s.messages = history
	for _, mv := range live {
		s.insertMessageLocked(mv)
	}

	s.notifyLocked(Event{Kind: EventHistory, Messages: s.messages})
	return nil
}

// Clear drops the current selection: the subscription is torn down and
// the history emptied. The conversation list is untouched.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.teardownLocked()
	s.current = nil
	s.messages = nil
	s.notifyLocked(Event{Kind: EventSelection, Conversation: nil})
}

// teardownLocked releases the live subscription, if any.
func (s *Synchronizer) teardownLocked() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
}

// Close releases the synchronizer: subscription torn down, observers
// closed. Safe to call on every exit path.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	s.teardownLocked()
	s.current = nil
	s.messages = nil

	for obs := range s.observers {
		delete(s.observers, obs)
		obs.closeChan()
	}
}

// watch consumes the feed subscription for one selection epoch. Each
// notification re-fetches the inserted row joined with author fields
// and appends it to the history.
func (s *Synchronizer) watch(ctx context.Context, sub *feed.Subscription, epoch uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			mv, err := s.store.GetMessageView(ctx, ev.MessageID)
			if err != nil {
				s.log.Warn().Err(err).Str("message_id", ev.MessageID).Msg("fetch pushed message failed")
				continue
			}
			s.appendMessage(epoch, mv)
		}
	}
}

func (s *Synchronizer) appendMessage(epoch uint64, mv *store.MessageView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || s.current == nil || mv.ConversationID != s.current.ID {
		return // stale delivery for a superseded selection
	}
	if s.insertMessageLocked(mv) {
		s.notifyLocked(Event{Kind: EventMessage, Message: mv})
	}
}

// insertMessageLocked places mv into the history keeping (created_at,
// seq) ascending, skipping duplicates. Returns true if inserted.
func (s *Synchronizer) insertMessageLocked(mv *store.MessageView) bool {
	for _, existing := range s.messages {
		if existing.Seq == mv.Seq {
			return false
		}
	}

	i := len(s.messages)
	for i > 0 && messageAfter(s.messages[i-1], mv) {
		i--
	}
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = mv
	return true
}

// messageAfter reports whether a sorts after b.
func messageAfter(a, b *store.MessageView) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq > b.Seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// SendMessage inserts a message into the current conversation. The
// message is not appended locally; it becomes visible through the feed
// delivery path once the store confirms the insert. Write failures
// propagate to the caller.
func (s *Synchronizer) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return ErrNoSelection
	}

	msg := &store.Message{
		ConversationID: current.ID,
		SenderID:       s.userID,
		Content:        content,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// CreatePersonalChat creates a two-participant conversation with the
// given user, reloads the conversation list, and selects the new
// conversation out of the reloaded list.
func (s *Synchronizer) CreatePersonalChat(ctx context.Context, otherUserID string) (*store.Conversation, error) {
	if otherUserID == "" {
		return nil, ErrNoMembers
	}
	if otherUserID == s.userID {
		return nil, ErrSelfConversation
	}

	conv, err := s.store.CreateConversation(ctx, store.ConversationPersonal, nil, []string{s.userID, otherUserID})
	if err != nil {
		return nil, fmt.Errorf("create personal chat: %w", err)
	}

	s.selectCreated(ctx, conv.ID)
	return conv, nil
}

// CreateGroupChat creates a named conversation with the creator plus
// the listed members, reloads the conversation list, and selects the
// new conversation out of the reloaded list.
func (s *Synchronizer) CreateGroupChat(ctx context.Context, name string, memberIDs []string) (*store.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyGroupName
	}

	// The creator is always a participant; duplicate ids and the
	// creator's own id in memberIDs do not inflate the set.
	participants := []string{s.userID}
	seen := map[string]struct{}{s.userID: {}}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, ErrNoMembers
	}

	conv, err := s.store.CreateConversation(ctx, store.ConversationGroup, &name, participants)
	if err != nil {
		return nil, fmt.Errorf("create group chat: %w", err)
	}

	s.selectCreated(ctx, conv.ID)
	return conv, nil
}

// selectCreated reloads the list and selects the freshly created
// conversation. The match runs against the reloaded list; a miss only
// means the selection stays put.
func (s *Synchronizer) selectCreated(ctx context.Context, conversationID string) {
	s.LoadConversations(ctx)
	if err := s.Select(ctx, conversationID); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("select created conversation failed")
	}
}
