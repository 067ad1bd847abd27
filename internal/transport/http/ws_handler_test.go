package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ndenisov/chatsync/internal/proto"
)

// outboundFrame mirrors proto.Outbound with raw data for decoding in tests.
type outboundFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) outboundFrame {
	t.Helper()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readFrameOfType skips frames until one of the wanted type arrives.
func readFrameOfType(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) outboundFrame {
	t.Helper()

	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == frameType {
			return frame
		}
	}
}

func writeCommand(t *testing.T, ctx context.Context, conn *websocket.Conn, cmdType string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal command data: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: cmdType, Data: raw}); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func TestWSSessionLifecycle(t *testing.T) {
	server, authService := newTestServer(t)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken, _, err := authService.SignUp(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	_, bob, err := authService.SignUp(ctx, "bob", "password123")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[4:]+"/ws?token="+aliceToken, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Initial list load for the authenticated identity.
	frame := readFrameOfType(t, ctx, conn, proto.OutboundTypeConversations)
	var listData proto.ConversationsData
	if err := json.Unmarshal(frame.Data, &listData); err != nil {
		t.Fatalf("unmarshal conversations: %v", err)
	}
	if len(listData.Conversations) != 0 {
		t.Fatalf("expected empty list, got %+v", listData.Conversations)
	}

	// Creating a personal chat reloads the list and selects the new
	// conversation.
	writeCommand(t, ctx, conn, proto.InboundTypeCreatePersonal, proto.CreatePersonalData{UserID: bob.ID})

	frame = readFrameOfType(t, ctx, conn, proto.OutboundTypeSelection)
	var selection proto.SelectionData
	if err := json.Unmarshal(frame.Data, &selection); err != nil {
		t.Fatalf("unmarshal selection: %v", err)
	}
	if selection.Conversation == nil || selection.Conversation.Kind != "personal" {
		t.Fatalf("unexpected selection: %+v", selection.Conversation)
	}
	if len(selection.Conversation.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %+v", selection.Conversation.Participants)
	}

	frame = readFrameOfType(t, ctx, conn, proto.OutboundTypeHistory)
	var history proto.HistoryData
	if err := json.Unmarshal(frame.Data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history.Messages) != 0 {
		t.Fatalf("expected empty history, got %+v", history.Messages)
	}

	// A sent message comes back through the live-push path.
	writeCommand(t, ctx, conn, proto.InboundTypeSend, proto.SendData{Content: "hello"})

	frame = readFrameOfType(t, ctx, conn, proto.OutboundTypeMessage)
	var msg proto.Message
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Content != "hello" || msg.Sender.Username != "alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// Domain errors come back as error frames.
	writeCommand(t, ctx, conn, proto.InboundTypeSelect, proto.SelectData{ConversationID: "nope"})
	frame = readFrameOfType(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != "unknown_conversation" {
		t.Fatalf("expected unknown_conversation error, got %+v", frame.Error)
	}
}

func TestWSRejectsMissingToken(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+ts.URL[4:]+"/ws", nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp != nil && resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
