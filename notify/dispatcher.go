// Package notify fans committed messages out to room subscribers, members'
// personal channels, the inbox projection and the event sink.
package notify

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/metrics"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/presence"
	"github.com/tcriess/stride-chat/types"
)

const (
	defaultReorderWindow = 250 * time.Millisecond
	defaultLaneBuffer    = 256
	laneIdle             = time.Minute
	deliverTimeout       = 10 * time.Second
)

// Broadcaster delivers events to connected sessions. Room events only reach
// sessions of the listed members.
type Broadcaster interface {
	BroadcastRoomTo(roomId string, members types.StringSet, event string, data interface{})
	SendUser(userId, event string, data interface{})
}

// Store is the part of the persistence layer the fan-out reads and writes.
type Store interface {
	MembersSnapshot(ctx context.Context, roomId string) ([]*types.Member, error)
	UpsertInbox(ctx context.Context, item *types.InboxItem) (bool, error)
}

var _ Store = persistence.Store(nil)

type Options struct {
	// ReorderWindow bounds how long a lane waits for a missing seq before skipping it.
	ReorderWindow time.Duration
	LaneBuffer    int
}

// committed is a message to deliver; a nil msg marks a released reservation.
type committed struct {
	msg  *types.Message
	room *types.Room
}

// lane orders one room's committed messages by seq.
type lane struct {
	roomId   string
	in       chan *committed
	queued   atomic.Int64
	inflight atomic.Int64 // reserved sends not yet published or released
	sendMu   sync.RWMutex // guards closing in
	closed   bool
	next     int64 // next seq to deliver, 0 before the first delivery
	pending  map[int64]*committed
}

// Dispatcher runs one goroutine per active room. Each room's notifications
// leave in seq order: a message arriving ahead of a gap waits up to the
// reorder window for the gap to fill, but only while sends of this process
// that reserved a slot are still in flight. Seqs committed elsewhere never
// arrive here, so without a local reservation nothing is waited for.
type Dispatcher struct {
	store    Store
	out      Broadcaster
	presence presence.Tracker
	sink     Sink
	window   time.Duration
	buffer   int
	logger   hclog.Logger

	mu        sync.Mutex
	lanes     map[string]*lane
	delivered map[string]int64 // room -> last delivered seq of reaped lanes
	closed    bool
	wg        sync.WaitGroup
}

func NewDispatcher(store Store, out Broadcaster, tracker presence.Tracker, sink Sink, opts Options, logger hclog.Logger) *Dispatcher {
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = defaultReorderWindow
	}
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = defaultLaneBuffer
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{
		store:     store,
		out:       out,
		presence:  tracker,
		sink:      sink,
		window:    opts.ReorderWindow,
		buffer:    opts.LaneBuffer,
		logger:    logger.Named("notify"),
		lanes:     map[string]*lane{},
		delivered: map[string]int64{},
	}
}

// laneFor returns the room's lane, starting it if needed. Callers hold d.mu.
func (d *Dispatcher) laneFor(roomId string) *lane {
	l, ok := d.lanes[roomId]
	if !ok {
		l = &lane{roomId: roomId, in: make(chan *committed, d.buffer), pending: map[int64]*committed{}}
		if seq, ok := d.delivered[roomId]; ok {
			l.next = seq + 1
			delete(d.delivered, roomId)
		}
		d.lanes[roomId] = l
		d.wg.Add(1)
		go d.run(l)
	}
	return l
}

// Reserve announces a send to the room that has not been assigned a seq yet.
// Publishing the message consumes the reservation; a send that fails to
// commit calls the returned release instead.
func (d *Dispatcher) Reserve(roomId string) (release func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	l := d.laneFor(roomId)
	l.inflight.Add(1)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if !l.unreserve() || d.closed {
				d.mu.Unlock()
				return
			}
			l.queued.Add(1)
			d.mu.Unlock()
			d.enqueue(l, &committed{})
		})
	}
}

// Publish hands a committed message to its room's lane. It blocks only when the lane's buffer is full.
func (d *Dispatcher) Publish(msg *types.Message, room *types.Room) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping notification", "room", msg.RoomId, "seq", msg.Seq)
		return
	}
	l := d.laneFor(msg.RoomId)
	// counted as queued before the reservation goes, see settle
	l.queued.Add(1)
	l.unreserve()
	d.mu.Unlock()
	d.enqueue(l, &committed{msg: msg, room: room})
}

// enqueue passes c to the lane; the caller has counted it in queued.
func (d *Dispatcher) enqueue(l *lane, c *committed) {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		l.queued.Add(-1)
		if c.msg != nil {
			d.logger.Warn("dispatcher closed, dropping notification", "room", c.msg.RoomId, "seq", c.msg.Seq)
		}
		return
	}
	l.in <- c
}

// Close delivers everything queued and stops all lanes.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	lanes := make([]*lane, 0, len(d.lanes))
	for _, l := range d.lanes {
		lanes = append(lanes, l)
	}
	d.mu.Unlock()
	for _, l := range lanes {
		l.sendMu.Lock()
		l.closed = true
		close(l.in)
		l.sendMu.Unlock()
	}
	d.wg.Wait()
	return d.sink.Close()
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	gap := time.NewTimer(time.Hour)
	gap.Stop()
	idle := time.NewTimer(laneIdle)
	defer idle.Stop()
	for {
		select {
		case c, ok := <-l.in:
			if !ok {
				d.flush(l)
				return
			}
			l.queued.Add(-1)
			if c.msg != nil {
				d.accept(l, c)
			}
			d.settle(l)
			stopTimer(gap)
			if len(l.pending) > 0 {
				gap.Reset(d.window)
			}
			idle.Reset(laneIdle)
		case <-gap.C:
			d.skipGap(l)
			if len(l.pending) > 0 {
				gap.Reset(d.window)
			}
		case <-idle.C:
			if d.reap(l) {
				return
			}
			idle.Reset(laneIdle)
		}
	}
}

// settle delivers everything pending once no reserved send of this process
// is left that could fill the gaps, neither in flight nor queued.
func (d *Dispatcher) settle(l *lane) {
	if l.inflight.Load() > 0 || l.queued.Load() > 0 {
		return
	}
	for _, seq := range l.pendingSeqs() {
		if c, ok := l.pending[seq]; ok {
			delete(l.pending, seq)
			d.deliver(l, c, true)
			d.drain(l)
		}
	}
}

func (d *Dispatcher) accept(l *lane, c *committed) {
	seq := c.msg.Seq
	switch {
	case seq == l.next || (l.next == 0 && seq == 1):
		d.deliver(l, c, true)
		d.drain(l)
	case l.next > 0 && seq < l.next:
		// its gap was already skipped; later unread figures went out first
		metrics.FanoutDropped.WithLabelValues("stale").Inc()
		d.logger.Warn("late notification skipped", "room", l.roomId, "seq", seq, "next", l.next)
		d.deliver(l, c, false)
	default:
		l.pending[seq] = c
	}
}

// drain delivers pending messages while they are consecutive.
func (d *Dispatcher) drain(l *lane) {
	for {
		c, ok := l.pending[l.next]
		if !ok {
			return
		}
		delete(l.pending, l.next)
		d.deliver(l, c, true)
	}
}

// skipGap gives up on the missing seqs below the lowest pending one.
func (d *Dispatcher) skipGap(l *lane) {
	seqs := l.pendingSeqs()
	if len(seqs) == 0 {
		return
	}
	metrics.FanoutDropped.WithLabelValues("gap").Inc()
	d.logger.Debug("skipping sequence gap", "room", l.roomId, "from", l.next, "to", seqs[0]-1)
	c := l.pending[seqs[0]]
	delete(l.pending, seqs[0])
	d.deliver(l, c, true)
	d.drain(l)
}

func (d *Dispatcher) flush(l *lane) {
	for _, seq := range l.pendingSeqs() {
		c := l.pending[seq]
		delete(l.pending, seq)
		d.deliver(l, c, true)
	}
}

func (d *Dispatcher) reap(l *lane) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || l.queued.Load() > 0 || l.inflight.Load() > 0 || len(l.pending) > 0 {
		return false
	}
	delete(d.lanes, l.roomId)
	if l.next > 0 {
		d.delivered[l.roomId] = l.next - 1
	}
	return true
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// unreserve consumes one reservation and reports whether there was one.
func (l *lane) unreserve() bool {
	for {
		n := l.inflight.Load()
		if n <= 0 {
			return false
		}
		if l.inflight.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (l *lane) pendingSeqs() []int64 {
	seqs := make([]int64, 0, len(l.pending))
	for seq := range l.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// deliver runs the fan-out of one message. Without notify only the message
// itself is broadcast; member notifications are left to later messages.
func (d *Dispatcher) deliver(l *lane, c *committed, notify bool) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	msg, room := c.msg, c.room
	if notify && msg.Seq >= l.next {
		l.next = msg.Seq + 1
	}

	d.out.BroadcastRoomTo(room.Id, room.MemberIds, types.EventMessageNew, types.NewMessageNew(msg))
	if notify {
		d.notifyMembers(ctx, msg, room)
	}
	if err := d.sink.Publish(ctx, NewCommittedEvent(msg)); err != nil {
		d.logger.Warn("could not publish committed event", "room", room.Id, "seq", msg.Seq, "error", err)
	}
	metrics.FanoutLatency.Observe(time.Since(msg.CreatedAt).Seconds())
}

// notifyMembers reads the member set once; joins and leaves after this read
// are not part of this round.
func (d *Dispatcher) notifyMembers(ctx context.Context, msg *types.Message, room *types.Room) {
	members, err := d.store.MembersSnapshot(ctx, room.Id)
	if err != nil {
		d.logger.Error("could not read members", "room", room.Id, "seq", msg.Seq, "error", err)
		return
	}
	for _, m := range members {
		unread := types.Unread(msg.Seq, m.LastReadSeq)
		d.out.SendUser(m.UserId, types.EventNotifyUpdate, types.NotifyUpdate{
			RoomId:        room.Id,
			RoomName:      room.Name,
			LastMessage:   room.LastMessage,
			LastMessageAt: room.LastMessageAt,
			Unread:        unread,
		})
		status := types.InboxQueued
		if unread == 0 {
			status = types.InboxRead
		} else if viewing, err := d.presence.Viewing(ctx, room.Id, m.UserId); err != nil {
			d.logger.Warn("presence lookup failed", "room", room.Id, "user", m.UserId, "error", err)
		} else if viewing {
			status = types.InboxDelivered
		}
		_, err := d.store.UpsertInbox(ctx, &types.InboxItem{
			UserId:        m.UserId,
			RoomId:        room.Id,
			RoomName:      room.Name,
			LastMessageId: msg.Id,
			LastSeq:       msg.Seq,
			LastMessage:   room.LastMessage,
			LastMessageAt: room.LastMessageAt,
			ActivityMs:    types.ActivityMillis(room.LastMessageAt),
			Unread:        unread,
			Status:        status,
			MutedAt:       m.MutedAt,
		})
		if err != nil {
			d.logger.Warn("could not update inbox", "room", room.Id, "user", m.UserId, "error", err)
		}
	}
}
