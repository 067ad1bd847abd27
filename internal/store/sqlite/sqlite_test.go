package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/ndenisov/chatsync/internal/feed"
	"github.com/ndenisov/chatsync/internal/store"
)

func newTestStore(t *testing.T, f *feed.Feed) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:", f)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProfile(t *testing.T, s *SQLiteStore, username string) *store.Profile {
	t.Helper()

	p, err := s.CreateProfile(context.Background(), username, "hash", "")
	if err != nil {
		t.Fatalf("failed to create profile %s: %v", username, err)
	}
	return p
}

func TestCreateConversationParticipantCounts(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")
	carol := seedProfile(t, s, "carol")

	personal, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create personal conversation: %v", err)
	}
	if personal.Kind != store.ConversationPersonal || personal.Name != nil {
		t.Fatalf("unexpected conversation: %+v", personal)
	}
	if got := personal.DisplayName(); got != "Personal Chat" {
		t.Fatalf("expected derived display name, got %q", got)
	}

	participants, err := s.ListParticipants(ctx, personal.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}

	name := "team"
	group, err := s.CreateConversation(ctx, store.ConversationGroup, &name, []string{alice.ID, bob.ID, carol.ID})
	if err != nil {
		t.Fatalf("create group conversation: %v", err)
	}
	if group.DisplayName() != "team" {
		t.Fatalf("expected group name, got %q", group.DisplayName())
	}

	participants, err = s.ListParticipants(ctx, group.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(participants))
	}
}

func TestCreateConversationDeduplicatesParticipants(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")

	conv, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID, bob.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	participants, err := s.ListParticipants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected duplicate id collapsed to 2 participants, got %d", len(participants))
	}
}

func TestCreateConversationRejectsUnknownParticipant(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")

	// Foreign keys are enforced: no orphan participant rows.
	if _, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, "no-such-user"}); err == nil {
		t.Fatal("expected foreign key violation for unknown participant")
	}

	summaries, err := s.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected rolled-back create to leave nothing, got %d", len(summaries))
	}
}

func TestListConversationsScopedAndOrdered(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")
	carol := seedProfile(t, s, "carol")

	first, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	second, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, carol.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	// Conversation alice is not part of.
	if _, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{bob.ID, carol.ID}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// A message in the first conversation makes it the most recently active.
	msg := &store.Message{ConversationID: first.ID, SenderID: bob.ID, Content: "ping"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	summaries, err := s.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(summaries))
	}
	if summaries[0].ID != first.ID || summaries[1].ID != second.ID {
		t.Fatalf("expected most recently active first, got %s then %s", summaries[0].ID, summaries[1].ID)
	}

	last := summaries[0].LastMessage
	if last == nil || last.Content != "ping" || last.SenderName != "bob" {
		t.Fatalf("unexpected last message preview: %+v", last)
	}
	if summaries[1].LastMessage != nil {
		t.Fatalf("expected no preview for empty conversation, got %+v", summaries[1].LastMessage)
	}
}

func TestSaveMessagePublishesInsertEvent(t *testing.T) {
	f := feed.New()
	s := newTestStore(t, f)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")

	conv, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	sub := f.Subscribe(conv.ID)
	defer sub.Close()

	msg := &store.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: "hello"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if msg.ID == "" || msg.Seq == 0 || msg.CreatedAt.IsZero() {
		t.Fatalf("expected store-assigned fields, got %+v", msg)
	}

	select {
	case ev := <-sub.C:
		if ev.MessageID != msg.ID || ev.ConversationID != conv.ID || ev.Seq != msg.Seq {
			t.Fatalf("unexpected insert event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected insert event")
	}
}

func TestListMessagesOrderedWithSeqTieBreak(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")

	conv, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	// Same creation timestamp for all three; seq must break the tie.
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	contents := []string{"one", "two", "three"}
	for _, content := range contents {
		msg := &store.Message{
			ConversationID: conv.ID,
			SenderID:       alice.ID,
			Content:        content,
			CreatedAt:      at,
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	messages, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, mv := range messages {
		if mv.Content != contents[i] {
			t.Fatalf("expected %q at index %d, got %q", contents[i], i, mv.Content)
		}
		if i > 0 && messages[i-1].Seq >= mv.Seq {
			t.Fatalf("expected strictly increasing seq, got %d then %d", messages[i-1].Seq, mv.Seq)
		}
		if mv.SenderName != "alice" {
			t.Fatalf("expected joined sender name, got %q", mv.SenderName)
		}
	}
}

func TestGetMessageViewJoinsAuthor(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	alice := seedProfile(t, s, "alice")
	bob := seedProfile(t, s, "bob")

	conv, err := s.CreateConversation(ctx, store.ConversationPersonal, nil, []string{alice.ID, bob.ID})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	msg := &store.Message{ConversationID: conv.ID, SenderID: bob.ID, Content: "hi"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	mv, err := s.GetMessageView(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message view: %v", err)
	}
	if mv.SenderName != "bob" || mv.Content != "hi" || mv.ConversationID != conv.ID {
		t.Fatalf("unexpected message view: %+v", mv)
	}
}
