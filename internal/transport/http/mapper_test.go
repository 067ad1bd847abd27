package http

import (
	"errors"
	"testing"
	"time"

	"github.com/ndenisov/chatsync/internal/chat"
	"github.com/ndenisov/chatsync/internal/proto"
	"github.com/ndenisov/chatsync/internal/store"
)

func TestConversationToProtoDerivesPersonalName(t *testing.T) {
	now := time.Now()
	summary := &store.ConversationSummary{
		Conversation: store.Conversation{
			ID:        "c1",
			Kind:      store.ConversationPersonal,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Participants: []store.Participant{
			{ConversationID: "c1", UserID: "u1"},
			{ConversationID: "c1", UserID: "u2"},
		},
		LastMessage: &store.LastMessage{Content: "hey", SenderName: "bob", CreatedAt: now},
	}

	out := conversationToProto(summary)
	if out.Name != "Personal Chat" {
		t.Fatalf("expected derived name, got %q", out.Name)
	}
	if len(out.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", out.Participants)
	}
	if out.LastMessage == nil || out.LastMessage.SenderName != "bob" {
		t.Fatalf("unexpected last message: %+v", out.LastMessage)
	}
}

func TestOutboundFromEventSelectionCleared(t *testing.T) {
	out := outboundFromEvent(chat.Event{Kind: chat.EventSelection}, false)
	if out.Type != proto.OutboundTypeSelection {
		t.Fatalf("expected selection type, got %q", out.Type)
	}
	data, ok := out.Data.(proto.SelectionData)
	if !ok || data.Conversation != nil {
		t.Fatalf("expected cleared selection, got %+v", out.Data)
	}
}

func TestErrorToProtoCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{chat.ErrEmptyMessage, "empty_message"},
		{chat.ErrNoSelection, "no_selection"},
		{chat.ErrUnknownConversation, "unknown_conversation"},
		{chat.ErrEmptyGroupName, "empty_group_name"},
		{chat.ErrNoMembers, "no_members"},
		{chat.ErrSelfConversation, "self_conversation"},
		{errUnknownCommand, "bad_request"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := errorToProto(tt.err); got.Code != tt.code {
			t.Errorf("error %v: expected code %q, got %q", tt.err, tt.code, got.Code)
		}
	}
}
