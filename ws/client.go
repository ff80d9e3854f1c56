package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateIdle
	StateInRoom
)

func (s ConnState) String() string {
	switch s {
	case StateAuthenticated:
		return "Authenticated"
	case StateIdle:
		return "Idle"
	case StateInRoom:
		return "InRoom"
	}
	return "Connecting"
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub
	gw  *Gateway

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	user   *types.User
	author types.AuthorSnapshot

	// rooms and state are only touched by the read loop.
	rooms map[string]struct{}
	state ConnState

	limiter *rate.Limiter
	logger  hclog.Logger

	// closed when the write loop exits
	doneChan chan struct{}
}

func newClient(gw *Gateway, conn *websocket.Conn, user *types.User) *Client {
	limits := gw.limits
	return &Client{
		hub:      gw.hub,
		gw:       gw,
		conn:     conn,
		send:     make(chan []byte, sendChannelSize),
		user:     user,
		author:   user.Snapshot(),
		rooms:    make(map[string]struct{}),
		state:    StateAuthenticated,
		limiter:  rate.NewLimiter(rate.Limit(limits.SendRate), limits.SendBurst),
		logger:   gw.logger.With("user", user.Id),
		doneChan: make(chan struct{}),
	}
}

func (c *Client) State() ConnState {
	return c.state
}

func (c *Client) updateState() {
	if len(c.rooms) > 0 {
		c.state = StateInRoom
	} else {
		c.state = StateIdle
	}
}

// enqueue hands a broadcast frame to the write loop without blocking. The
// caller holds the hub's read lock. A client that falls this far behind
// misses the frame and catches up through the pull API.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("send buffer full, dropping frame")
	}
}

// reply queues a direct answer of the read loop. It waits for buffer space
// unless the write loop is gone.
func (c *Client) reply(event, ack string, data interface{}) {
	frame, err := types.Encode(event, ack, data)
	if err != nil {
		c.logger.Error("could not encode reply", "event", event, "error", err)
		return
	}
	select {
	case c.send <- frame:
	case <-c.doneChan:
	}
}

// ack answers a request. Failed requests without an ack id get an error event instead.
func (c *Client) ack(ackId string, a types.Ack) {
	if !a.Ok && ackId == "" {
		c.reply(types.EventError, "", types.ErrorEvent{Code: a.Error, Message: a.Message})
		return
	}
	c.reply(types.EventAck, ackId, a)
}

func (c *Client) fail(ackId string, err error) {
	if errs.Retryable(err) {
		c.logger.Warn("request failed", "error", err)
	} else {
		c.logger.Debug("request rejected", "code", errs.CodeOf(err), "error", err)
	}
	c.ack(ackId, types.Ack{Ok: false, Error: errs.CodeOf(err), Message: errs.MessageOf(err)})
}

// readLoop pumps messages from the websocket connection to the handlers.
//
// The application runs readLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine. Requests of one connection are handled in order.
func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.gw.limits.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws closed unexpected", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, raw)
	}
}

// writeLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running writeLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.doneChan)
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	message := types.WebsocketMessage{}
	if err := json.Unmarshal(raw, &message); err != nil {
		c.fail("", errs.Validation(errs.CodeInvalidPayload, "frame is not a valid event envelope"))
		return
	}
	switch message.Event {
	case types.EventRoomJoin:
		c.handleJoin(ctx, message)
	case types.EventRoomLeave:
		c.handleLeave(ctx, message)
	case types.EventMessageSend:
		c.handleSend(ctx, message)
	case types.EventMessageRead:
		c.handleRead(ctx, message)
	default:
		c.fail(message.Ack, errs.Validation(errs.CodeUnknownEvent, "unknown event "+message.Event))
	}
}
