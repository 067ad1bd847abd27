package http

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ndenisov/chatsync/internal/chat"
	"github.com/ndenisov/chatsync/internal/feed"
	"github.com/ndenisov/chatsync/internal/proto"
	"github.com/ndenisov/chatsync/internal/store"
)

// sendLimitPerMinute caps messages per connection per minute.
const sendLimitPerMinute = 120

// WSHandler upgrades authenticated connections and binds each one to
// its own conversation synchronizer. Inbound frames become synchronizer
// commands; synchronizer state events stream back as outbound frames.
type WSHandler struct {
	store store.Store
	feed  *feed.Feed
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket session handler.
func NewWSHandler(st store.Store, f *feed.Feed, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{store: st, feed: f, log: logger}
}

// Handle serves one synchronizer session.
// GET /ws (authenticated)
func (h *WSHandler) Handle(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sync := chat.NewSynchronizer(h.store, h.feed, userID, *h.log)
	defer sync.Close()

	obs := sync.Observe()
	defer obs.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Error envelopes from the read loop are routed through outCh so
	// only the write loop touches the connection for writes.
	outCh := make(chan proto.Outbound, 16)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.writeLoop(ctx, conn, sync, obs, outCh)
	}()
	go func() {
		errCh <- h.readLoop(ctx, conn, sync, outCh)
	}()

	// Identity is available: populate the list before the first command.
	sync.LoadConversations(ctx)

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("user_id", userID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sync *chat.Synchronizer, outCh chan<- proto.Outbound) error {
	limiter := newSendLimiter(sendLimitPerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if err := h.dispatch(ctx, sync, limiter, inbound); err != nil {
			select {
			case outCh <- proto.Outbound{Type: proto.OutboundTypeError, Error: errorToProto(err)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, sync *chat.Synchronizer, limiter *sendLimiter, inbound proto.Inbound) error {
	switch inbound.Type {
	case proto.InboundTypeSelect:
		var data proto.SelectData
		if err := unmarshalData(inbound.Data, &data); err != nil {
			return err
		}
		return sync.Select(ctx, data.ConversationID)
	case proto.InboundTypeClear:
		sync.Clear()
		return nil
	case proto.InboundTypeSend:
		if !limiter.allow(time.Now()) {
			return errRateLimited
		}
		var data proto.SendData
		if err := unmarshalData(inbound.Data, &data); err != nil {
			return err
		}
		return sync.SendMessage(ctx, data.Content)
	case proto.InboundTypeCreatePersonal:
		var data proto.CreatePersonalData
		if err := unmarshalData(inbound.Data, &data); err != nil {
			return err
		}
		_, err := sync.CreatePersonalChat(ctx, data.UserID)
		return err
	case proto.InboundTypeCreateGroup:
		var data proto.CreateGroupData
		if err := unmarshalData(inbound.Data, &data); err != nil {
			return err
		}
		_, err := sync.CreateGroupChat(ctx, data.Name, data.UserIDs)
		return err
	case proto.InboundTypeRefresh:
		sync.LoadConversations(ctx)
		return nil
	default:
		return errUnknownCommand
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sync *chat.Synchronizer, obs *chat.Observer, outCh <-chan proto.Outbound) error {
	for {
		select {
		case event, ok := <-obs.C:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event, sync.Loading())); err != nil {
				return err
			}
		case outbound := <-outCh:
			if err := wsjson.Write(ctx, conn, outbound); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
