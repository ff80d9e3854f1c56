package ws

import (
	"context"
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

var (
	errInvalidRoomId = errs.Validation(errs.CodeInvalidRoomId, "room id is required")
	errRateLimited   = errs.Validation(errs.CodeRateLimited, "too many messages, slow down")
	errBadPayload    = errs.Validation(errs.CodeInvalidPayload, "malformed event payload")
)

// decodeLoose decodes a payload through a generic map so loosely typed
// clients ("seq": "5") are accepted.
func decodeLoose(data json.RawMessage, out interface{}) error {
	m := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return errBadPayload.Wrap(err)
		}
	}
	if err := mapstructure.WeakDecode(m, out); err != nil {
		return errBadPayload.Wrap(err)
	}
	return nil
}

func (c *Client) handleJoin(ctx context.Context, message types.WebsocketMessage) {
	req := types.RoomRequest{}
	if err := decodeLoose(message.Data, &req); err != nil {
		c.fail(message.Ack, err)
		return
	}
	if req.RoomId == "" {
		c.fail(message.Ack, errInvalidRoomId)
		return
	}
	if _, ok := c.rooms[req.RoomId]; ok {
		c.ack(message.Ack, types.Ack{Ok: true})
		return
	}
	ok, err := c.gw.store.IsMember(ctx, req.RoomId, c.user.Id)
	if err != nil {
		if errs.Retryable(err) {
			err = errs.New(errs.KindInfrastructure, errs.CodeJoinFailed, "could not join room").Wrap(err)
		}
		c.fail(message.Ack, err)
		return
	}
	if !ok {
		c.fail(message.Ack, errs.ErrNotAMember)
		return
	}
	c.rooms[req.RoomId] = struct{}{}
	c.updateState()
	c.hub.subscribe(c, req.RoomId)
	first, err := c.gw.presence.Enter(ctx, req.RoomId, c.user.Id)
	if err != nil {
		c.logger.Warn("could not record presence", "room", req.RoomId, "error", err)
	}
	c.ack(message.Ack, types.Ack{Ok: true})
	if first {
		c.hub.broadcastRoom(req.RoomId, types.EventRoomUserJoined, types.Presence{RoomId: req.RoomId, Author: c.author}, c, nil)
	}
}

func (c *Client) handleLeave(ctx context.Context, message types.WebsocketMessage) {
	req := types.RoomRequest{}
	if err := decodeLoose(message.Data, &req); err != nil {
		c.fail(message.Ack, err)
		return
	}
	if req.RoomId == "" {
		c.fail(message.Ack, errInvalidRoomId)
		return
	}
	c.leave(ctx, req.RoomId)
	c.ack(message.Ack, types.Ack{Ok: true})
}

// leave is a no-op for rooms the connection has not joined.
func (c *Client) leave(ctx context.Context, roomId string) {
	if _, ok := c.rooms[roomId]; !ok {
		return
	}
	delete(c.rooms, roomId)
	c.updateState()
	c.hub.unsubscribe(c, roomId)
	last, err := c.gw.presence.Leave(ctx, roomId, c.user.Id)
	if err != nil {
		c.logger.Warn("could not record presence", "room", roomId, "error", err)
	}
	if last {
		c.hub.broadcastRoom(roomId, types.EventRoomUserLeft, types.Presence{RoomId: roomId, Author: c.author}, c, nil)
	}
}

// leaveAll runs on disconnect.
func (c *Client) leaveAll(ctx context.Context) {
	for roomId := range c.rooms {
		c.leave(ctx, roomId)
	}
}

func (c *Client) handleSend(ctx context.Context, message types.WebsocketMessage) {
	req := types.SendRequest{}
	if err := json.Unmarshal(message.Data, &req); err != nil {
		c.fail(message.Ack, errBadPayload.Wrap(err))
		return
	}
	if !c.limiter.Allow() {
		c.fail(message.Ack, errRateLimited)
		return
	}
	res, err := c.gw.coordinator.Send(ctx, c.user.Id, req)
	if err != nil {
		c.fail(message.Ack, err)
		return
	}
	msg := res.Message
	createdAt := msg.CreatedAt
	unread := res.Unread
	c.ack(message.Ack, types.Ack{
		Ok:           true,
		Id:           msg.Id,
		SubmissionId: msg.SubmissionId,
		CreatedAt:    &createdAt,
		Seq:          msg.Seq,
		Attachments:  []types.Attachment(msg.Attachments),
		Unread:       &unread,
	})
}

func (c *Client) handleRead(ctx context.Context, message types.WebsocketMessage) {
	req := types.ReadRequest{}
	if err := decodeLoose(message.Data, &req); err != nil {
		c.fail(message.Ack, err)
		return
	}
	if req.RoomId == "" {
		c.fail(message.Ack, errInvalidRoomId)
		return
	}
	unread, err := c.gw.coordinator.CommitRead(ctx, c.user.Id, req.RoomId, req.Seq)
	if err != nil {
		c.fail(message.Ack, err)
		return
	}
	c.ack(message.Ack, types.Ack{Ok: true, Unread: &unread})

	// other sessions of the user clear their badges
	room, err := c.gw.store.GetRoom(ctx, req.RoomId)
	if err != nil {
		c.logger.Warn("could not load room", "room", req.RoomId, "error", err)
		return
	}
	c.hub.SendUser(c.user.Id, types.EventNotifyUpdate, types.NotifyUpdate{
		RoomId:        room.Id,
		RoomName:      room.Name,
		LastMessage:   room.LastMessage,
		LastMessageAt: room.LastMessageAt,
		Unread:        unread,
	})
}
