package ws

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/metrics"
	"github.com/tcriess/stride-chat/relay"
	"github.com/tcriess/stride-chat/types"
)

const (
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
	// frameOverhead covers the envelope and text around base64 attachment data.
	frameOverhead = 64 << 10
)

// Hub multiplexes the room broadcast channels and the per-user personal
// channels over the connected clients. With a relay configured, frames also
// reach the clients of other instances.
type Hub struct {
	// Registered clients.
	clients       map[*Client]struct{}
	clientsByRoom map[string]map[*Client]struct{}
	clientsByUser map[string]map[*Client]struct{}

	relay  relay.Relay
	logger hclog.Logger

	// mutex for manipulating the clients; a client's send channel is only
	// written under the read lock and only closed under the write lock
	sync.RWMutex
}

func NewHub(r relay.Relay, logger hclog.Logger) *Hub {
	if r == nil {
		r = relay.Local{}
	}
	return &Hub{
		clients:       make(map[*Client]struct{}),
		clientsByRoom: make(map[string]map[*Client]struct{}),
		clientsByUser: make(map[string]map[*Client]struct{}),
		relay:         r,
		logger:        logger.Named("hub"),
	}
}

// Run delivers frames relayed from other instances until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.relay.Run(ctx, func(env relay.Envelope) {
		if env.RoomId != "" {
			var members types.StringSet
			if env.Members != nil {
				members = types.NewStringSet(env.Members...)
			}
			h.deliverRoom(env.RoomId, env.Frame, nil, members)
		}
		if env.UserId != "" {
			h.deliverUser(env.UserId, env.Frame)
		}
	})
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// NoSubscribers returns the number of local clients subscribed to the room.
func (h *Hub) NoSubscribers(roomId string) int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clientsByRoom[roomId])
}

func addClient(m map[string]map[*Client]struct{}, key string, c *Client) bool {
	set, ok := m[key]
	if !ok {
		set = make(map[*Client]struct{})
		m[key] = set
	}
	if _, ok := set[c]; ok {
		return false
	}
	set[c] = struct{}{}
	return true
}

func removeClient(m map[string]map[*Client]struct{}, key string, c *Client) bool {
	set, ok := m[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
	return true
}

// register admits the client to its personal channel.
func (h *Hub) register(c *Client) {
	h.Lock()
	defer h.Unlock()
	h.clients[c] = struct{}{}
	addClient(h.clientsByUser, c.user.Id, c)
	metrics.Connections.Inc()
}

// unregister removes the client from every channel and closes its send channel.
func (h *Hub) unregister(c *Client) {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	removeClient(h.clientsByUser, c.user.Id, c)
	for roomId := range h.clientsByRoom {
		removeClient(h.clientsByRoom, roomId, c)
	}
	close(c.send)
	metrics.Connections.Dec()
}

func (h *Hub) subscribe(c *Client, roomId string) bool {
	h.Lock()
	defer h.Unlock()
	return addClient(h.clientsByRoom, roomId, c)
}

func (h *Hub) unsubscribe(c *Client, roomId string) bool {
	h.Lock()
	defer h.Unlock()
	return removeClient(h.clientsByRoom, roomId, c)
}

// BroadcastRoomTo sends an event to the subscribers of the room whose user is
// in members. Sessions of users removed since they joined are skipped.
func (h *Hub) BroadcastRoomTo(roomId string, members types.StringSet, event string, data interface{}) {
	if members == nil {
		members = types.NewStringSet()
	}
	h.broadcastRoom(roomId, event, data, nil, members)
}

func (h *Hub) broadcastRoom(roomId, event string, data interface{}, except *Client, members types.StringSet) {
	frame, err := types.Encode(event, "", data)
	if err != nil {
		h.logger.Error("could not encode event", "event", event, "error", err)
		return
	}
	h.deliverRoom(roomId, frame, except, members)
	env := relay.Envelope{RoomId: roomId, Frame: frame}
	if members != nil {
		env.Members = members.Sorted()
	}
	if err := h.relay.Publish(context.Background(), env); err != nil {
		h.logger.Warn("could not relay room event", "room", roomId, "event", event, "error", err)
	}
}

// SendUser sends an event to every session of the user.
func (h *Hub) SendUser(userId, event string, data interface{}) {
	frame, err := types.Encode(event, "", data)
	if err != nil {
		h.logger.Error("could not encode event", "event", event, "error", err)
		return
	}
	h.deliverUser(userId, frame)
	if err := h.relay.Publish(context.Background(), relay.Envelope{UserId: userId, Frame: frame}); err != nil {
		h.logger.Warn("could not relay user event", "user", userId, "event", event, "error", err)
	}
}

// deliverRoom enqueues the frame for the room's subscribers. A nil members set
// admits every subscriber.
func (h *Hub) deliverRoom(roomId string, frame []byte, except *Client, members types.StringSet) {
	h.RLock()
	defer h.RUnlock()
	for c := range h.clientsByRoom[roomId] {
		if c == except {
			continue
		}
		if members != nil && !members.Has(c.user.Id) {
			h.logger.Debug("skipping subscriber no longer in room", "room", roomId, "user", c.user.Id)
			continue
		}
		c.enqueue(frame)
	}
}

func (h *Hub) deliverUser(userId string, frame []byte) {
	h.RLock()
	defer h.RUnlock()
	for c := range h.clientsByUser[userId] {
		c.enqueue(frame)
	}
}
