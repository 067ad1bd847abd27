package http

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ndenisov/chatsync/internal/chat"
	"github.com/ndenisov/chatsync/internal/proto"
	"github.com/ndenisov/chatsync/internal/store"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errBadPayload     = errors.New("bad payload")
	errRateLimited    = errors.New("too many messages, slow down")
)

func unmarshalData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func conversationToProto(c *store.ConversationSummary) proto.Conversation {
	participants := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, p.UserID)
	}

	out := proto.Conversation{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Name:         c.DisplayName(),
		Participants: participants,
		CreatedTS:    c.CreatedAt.Unix(),
		UpdatedTS:    c.UpdatedAt.Unix(),
	}
	if c.LastMessage != nil {
		out.LastMessage = &proto.LastMessage{
			Content:    c.LastMessage.Content,
			SenderName: c.LastMessage.SenderName,
			TS:         c.LastMessage.CreatedAt.Unix(),
		}
	}
	return out
}

func messageToProto(mv *store.MessageView) proto.Message {
	return proto.Message{
		ID:             mv.ID,
		ConversationID: mv.ConversationID,
		Sender: proto.Sender{
			ID:        mv.SenderID,
			Username:  mv.SenderName,
			AvatarURL: mv.SenderAvatarURL,
		},
		Content: mv.Content,
		Seq:     mv.Seq,
		TS:      mv.CreatedAt.Unix(),
	}
}

// outboundFromEvent maps a synchronizer state event to its wire form.
func outboundFromEvent(ev chat.Event, loading bool) proto.Outbound {
	switch ev.Kind {
	case chat.EventConversations:
		conversations := make([]proto.Conversation, 0, len(ev.Conversations))
		for _, c := range ev.Conversations {
			conversations = append(conversations, conversationToProto(c))
		}
		return proto.Outbound{
			Type: proto.OutboundTypeConversations,
			Data: proto.ConversationsData{Conversations: conversations, Loading: loading},
		}
	case chat.EventSelection:
		data := proto.SelectionData{}
		if ev.Conversation != nil {
			c := conversationToProto(ev.Conversation)
			data.Conversation = &c
		}
		return proto.Outbound{Type: proto.OutboundTypeSelection, Data: data}
	case chat.EventHistory:
		messages := make([]proto.Message, 0, len(ev.Messages))
		for _, mv := range ev.Messages {
			messages = append(messages, messageToProto(mv))
		}
		return proto.Outbound{Type: proto.OutboundTypeHistory, Data: proto.HistoryData{Messages: messages}}
	case chat.EventMessage:
		msg := messageToProto(ev.Message)
		return proto.Outbound{Type: proto.OutboundTypeMessage, Data: msg}
	default:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "internal", Msg: "unknown event"},
		}
	}
}

// errorToProto maps a synchronizer operation error to a wire error.
func errorToProto(err error) *proto.Error {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return &proto.Error{Code: "empty_message", Msg: err.Error()}
	case errors.Is(err, chat.ErrNoSelection):
		return &proto.Error{Code: "no_selection", Msg: err.Error()}
	case errors.Is(err, chat.ErrUnknownConversation):
		return &proto.Error{Code: "unknown_conversation", Msg: err.Error()}
	case errors.Is(err, chat.ErrEmptyGroupName):
		return &proto.Error{Code: "empty_group_name", Msg: err.Error()}
	case errors.Is(err, chat.ErrNoMembers):
		return &proto.Error{Code: "no_members", Msg: err.Error()}
	case errors.Is(err, chat.ErrSelfConversation):
		return &proto.Error{Code: "self_conversation", Msg: err.Error()}
	case errors.Is(err, errUnknownCommand), errors.Is(err, errBadPayload):
		return &proto.Error{Code: "bad_request", Msg: err.Error()}
	case errors.Is(err, errRateLimited):
		return &proto.Error{Code: "rate_limited", Msg: err.Error()}
	default:
		return &proto.Error{Code: "internal", Msg: "operation failed"}
	}
}
