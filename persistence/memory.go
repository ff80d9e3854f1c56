package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/filter"
	"github.com/tcriess/stride-chat/types"
)

type memState struct {
	rooms       map[string]*types.Room
	members     map[string]*types.Member           // room/user
	messages    map[string]map[int64]*types.Message // room -> seq
	submissions map[string]*types.Message           // room/submission
	messageIds  map[string]struct{}
	inbox       map[string]*types.InboxItem // user/room
	users       map[string]*types.User
}

// MemoryStore is an in-process Store. Transactions hold the store lock for
// their whole duration and undo their writes on error.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	undo  *[]func() // non-nil inside a transaction
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			rooms:       map[string]*types.Room{},
			members:     map[string]*types.Member{},
			messages:    map[string]map[int64]*types.Message{},
			submissions: map[string]*types.Message{},
			messageIds:  map[string]struct{}{},
			inbox:       map[string]*types.InboxItem{},
			users:       map[string]*types.User{},
		},
		now: storeNow,
	}
}

func key(a, b string) string {
	return a + "/" + b
}

func (s *MemoryStore) lock() func() {
	if s.undo != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) record(fn func()) {
	if s.undo != nil {
		*s.undo = append(*s.undo, fn)
	}
}

// set stores v under k in m, recording how to restore the previous value.
func set[V any](s *MemoryStore, m map[string]V, k string, v V) {
	prev, had := m[k]
	s.record(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.undo != nil {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	undo := make([]func(), 0)
	tx := &MemoryStore{mu: s.mu, state: s.state, undo: &undo, now: s.now}
	err := ctx.Err()
	if err == nil {
		err = fn(tx)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return classify(err, "transaction")
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRoom(r *types.Room) *types.Room {
	c := *r
	c.MemberIds = r.MemberIds.Clone()
	c.Tags = types.JSONStringMap{}
	for k, v := range r.Tags {
		c.Tags[k] = v
	}
	return &c
}

func cloneMember(m *types.Member) *types.Member {
	c := *m
	return &c
}

func cloneMessage(m *types.Message) *types.Message {
	c := *m
	c.Attachments = append(c.Attachments[:0:0], m.Attachments...)
	c.Meta = types.JSONStringMap{}
	for k, v := range m.Meta {
		c.Meta[k] = v
	}
	return &c
}

func cloneInbox(i *types.InboxItem) *types.InboxItem {
	c := *i
	return &c
}

// Rooms

func (s *MemoryStore) CreateRoom(ctx context.Context, spec types.RoomSpec) (*types.Room, error) {
	room, owner, err := newRoom(spec, s.now())
	if err != nil {
		return nil, err
	}
	defer s.lock()()
	if _, ok := s.state.rooms[room.Id]; ok {
		return nil, errs.Conflict(errs.CodeInvalidRoomId, "room "+room.Id+" already exists")
	}
	set(s, s.state.rooms, room.Id, cloneRoom(room))
	if owner != nil {
		set(s, s.state.members, key(room.Id, owner.UserId), cloneMember(owner))
	}
	return room, nil
}

func (s *MemoryStore) IncrementSeqAndTouch(ctx context.Context, roomId, preview string) (*types.Room, error) {
	now := s.now()
	defer s.lock()()
	stored, ok := s.state.rooms[roomId]
	if !ok || stored.Closed() {
		return nil, errs.ErrRoomNotFound
	}
	room := cloneRoom(stored)
	room.SeqCounter++
	room.LastMessage = preview
	room.LastMessageAt = &now
	room.ActivityMs = now.UnixMilli()
	room.UpdatedAt = now
	set(s, s.state.rooms, roomId, room)
	return cloneRoom(room), nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomId string) (*types.Room, error) {
	defer s.lock()()
	room, ok := s.state.rooms[roomId]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) CloseRoom(ctx context.Context, roomId string) error {
	now := s.now()
	defer s.lock()()
	stored, ok := s.state.rooms[roomId]
	if !ok {
		return errs.ErrRoomNotFound
	}
	if stored.Closed() {
		return nil
	}
	room := cloneRoom(stored)
	room.ClosedAt = &now
	room.UpdatedAt = now
	set(s, s.state.rooms, roomId, room)
	return nil
}

func (s *MemoryStore) UpdateRoomTags(ctx context.Context, roomId string, updates []*types.TagUpdate) ([]bool, error) {
	defer s.lock()()
	stored, ok := s.state.rooms[roomId]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	room := cloneRoom(stored)
	res := filter.UpdateTags(room.Tags, updates)
	room.UpdatedAt = s.now()
	set(s, s.state.rooms, roomId, room)
	return res, nil
}

// sortedRooms returns the rooms matching keep after the cursor, in (activity desc, id desc) order.
func (s *MemoryStore) sortedRooms(after *types.ActivityCursor, keep func(*types.Room) bool) []*types.Room {
	rooms := make([]*types.Room, 0)
	for _, r := range s.state.rooms {
		if after != nil && !after.After(r.ActivityMs, r.Id) {
			continue
		}
		if keep(r) {
			rooms = append(rooms, r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].ActivityMs != rooms[j].ActivityMs {
			return rooms[i].ActivityMs > rooms[j].ActivityMs
		}
		return rooms[i].Id > rooms[j].Id
	})
	return rooms
}

func (s *MemoryStore) ListRooms(ctx context.Context, cursor string, limit int) ([]*types.Room, string, error) {
	after, err := types.DecodeActivityCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	defer s.lock()()
	sorted := s.sortedRooms(after, func(*types.Room) bool { return true })
	next := ""
	if len(sorted) > n {
		sorted = sorted[:n]
		next = types.NewActivityCursor(sorted[n-1].ActivityMs, sorted[n-1].Id).Encode()
	}
	rooms := make([]*types.Room, len(sorted))
	for i, r := range sorted {
		rooms[i] = cloneRoom(r)
	}
	return rooms, next, nil
}

func (s *MemoryStore) ListRoomsForMember(ctx context.Context, userId string, f types.RoomFilter, cursor string, limit int) ([]*types.RoomListItem, string, error) {
	defer s.lock()()
	search := strings.ToLower(f.Search)
	fetch := func(after *types.ActivityCursor, limit int) ([]*types.RoomListItem, error) {
		items := make([]*types.RoomListItem, 0, limit)
		rooms := s.sortedRooms(after, func(r *types.Room) bool {
			if r.Closed() {
				return false
			}
			m, ok := s.state.members[key(r.Id, userId)]
			if !ok || !m.Active() {
				return false
			}
			if f.Pinned != nil && m.Pinned != *f.Pinned {
				return false
			}
			if f.Muted != nil && m.Muted != *f.Muted {
				return false
			}
			return search == "" || strings.Contains(strings.ToLower(r.Name), search)
		})
		for _, r := range rooms {
			if len(items) == limit {
				break
			}
			m := s.state.members[key(r.Id, userId)]
			items = append(items, &types.RoomListItem{
				Room:   cloneRoom(r),
				Member: cloneMember(m),
				Unread: types.Unread(r.SeqCounter, m.LastReadSeq),
			})
		}
		return items, nil
	}
	return roomPage(fetch, f, cursor, limit)
}

// Messages

func (s *MemoryStore) FindBySubmissionId(ctx context.Context, roomId, submissionId string) (*types.Message, error) {
	defer s.lock()()
	msg, ok := s.state.submissions[key(roomId, submissionId)]
	if !ok {
		return nil, nil
	}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *types.Message, seq int64) (*types.Message, error) {
	msg.Seq = seq
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	defer s.lock()()
	bySeq := s.state.messages[msg.RoomId]
	if _, ok := bySeq[seq]; ok {
		return nil, errs.ErrDuplicateSeq
	}
	if _, ok := s.state.submissions[key(msg.RoomId, msg.SubmissionId)]; ok {
		return nil, errs.ErrDuplicateSubmit
	}
	if _, ok := s.state.messageIds[msg.Id]; ok {
		return nil, errs.Conflict(errs.CodeInvalidPayload, "message id already exists")
	}
	if bySeq == nil {
		bySeq = map[int64]*types.Message{}
		s.state.messages[msg.RoomId] = bySeq
	}
	stored := cloneMessage(msg)
	bySeq[seq] = stored
	s.state.submissions[key(msg.RoomId, msg.SubmissionId)] = stored
	s.state.messageIds[msg.Id] = struct{}{}
	s.record(func() {
		delete(bySeq, seq)
		delete(s.state.submissions, key(msg.RoomId, msg.SubmissionId))
		delete(s.state.messageIds, msg.Id)
	})
	return msg, nil
}

func (s *MemoryStore) findMessage(roomId, messageId string) *types.Message {
	for _, m := range s.state.messages[roomId] {
		if m.Id == messageId {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, roomId, messageId string) (*types.Message, error) {
	defer s.lock()()
	m := s.findMessage(roomId, messageId)
	if m == nil {
		return nil, errs.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomId, cursor string, limit int) ([]*types.Message, string, error) {
	before, err := types.DecodeSeqCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	defer s.lock()()
	seqs := make([]int64, 0)
	for seq := range s.state.messages[roomId] {
		if before == 0 || seq < before {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	next := ""
	if len(seqs) > n {
		seqs = seqs[:n]
		next = types.EncodeSeqCursor(seqs[n-1])
	}
	msgs := make([]*types.Message, len(seqs))
	for i, seq := range seqs {
		msgs[i] = cloneMessage(s.state.messages[roomId][seq])
	}
	return msgs, next, nil
}

func (s *MemoryStore) SoftDeleteMessage(ctx context.Context, roomId, messageId string) error {
	now := s.now()
	defer s.lock()()
	m := s.findMessage(roomId, messageId)
	if m == nil {
		return errs.ErrMessageNotFound
	}
	if m.DeletedAt == nil {
		m.DeletedAt = &now
		s.record(func() { m.DeletedAt = nil })
	}
	return nil
}

func (s *MemoryStore) MessageStats(ctx context.Context, roomId string) (*MessageStats, error) {
	defer s.lock()()
	stats := &MessageStats{}
	for seq := range s.state.messages[roomId] {
		stats.Count++
		stats.DistinctSeqs++
		if stats.MinSeq == 0 || seq < stats.MinSeq {
			stats.MinSeq = seq
		}
		if seq > stats.MaxSeq {
			stats.MaxSeq = seq
		}
	}
	return stats, nil
}

func (s *MemoryStore) AttachmentReferenced(ctx context.Context, key string) (bool, error) {
	roomId, _, _ := strings.Cut(key, "/")
	defer s.lock()()
	for _, m := range s.state.messages[roomId] {
		for _, a := range m.Attachments {
			if a.Key == key {
				return true, nil
			}
		}
	}
	return false, nil
}

// Members

func (s *MemoryStore) activeMember(roomId, userId string) (*types.Member, bool) {
	m, ok := s.state.members[key(roomId, userId)]
	if !ok || !m.Active() {
		return nil, false
	}
	return m, true
}

func (s *MemoryStore) GetMember(ctx context.Context, roomId, userId string) (*types.Member, error) {
	defer s.lock()()
	m, ok := s.activeMember(roomId, userId)
	if !ok {
		return nil, errs.ErrMemberNotFound
	}
	return cloneMember(m), nil
}

func (s *MemoryStore) roomMembers(roomId string) []*types.Member {
	members := make([]*types.Member, 0)
	for _, m := range s.state.members {
		if m.RoomId == roomId && m.Active() {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Id < members[j].Id })
	return members
}

func (s *MemoryStore) ListMembers(ctx context.Context, roomId, cursor string, limit int) ([]*types.Member, string, error) {
	after, err := types.DecodeKeyCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	defer s.lock()()
	members := make([]*types.Member, 0)
	for _, m := range s.roomMembers(roomId) {
		if after == "" || m.Id > after {
			members = append(members, cloneMember(m))
		}
	}
	next := ""
	if len(members) > n {
		members = members[:n]
		next = types.EncodeKeyCursor(members[n-1].Id)
	}
	return members, next, nil
}

func (s *MemoryStore) UpsertMember(ctx context.Context, roomId, userId string, role types.Role) (*types.Member, bool, error) {
	now := s.now()
	defer s.lock()()
	stored, ok := s.state.rooms[roomId]
	if !ok || stored.Closed() {
		return nil, false, errs.ErrRoomNotFound
	}
	room := cloneRoom(stored)
	existing := s.state.members[key(roomId, userId)]
	member, joined, err := admit(room, existing, userId, role, now)
	if err != nil {
		return nil, false, err
	}
	set(s, s.state.members, key(roomId, userId), member)
	if joined {
		set(s, s.state.rooms, roomId, room)
	}
	return cloneMember(member), joined, nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, roomId, userId string) (bool, error) {
	now := s.now()
	defer s.lock()()
	stored, ok := s.state.rooms[roomId]
	if !ok || stored.Closed() {
		return false, errs.ErrRoomNotFound
	}
	m, active := s.activeMember(roomId, userId)
	if active {
		left := cloneMember(m)
		left.LeftAt = &now
		left.UpdatedAt = now
		set(s, s.state.members, key(roomId, userId), left)
	}
	if stored.MemberIds.Has(userId) {
		room := cloneRoom(stored)
		room.MemberIds.Remove(userId)
		room.MemberCount = len(room.MemberIds)
		room.UpdatedAt = now
		set(s, s.state.rooms, roomId, room)
	}
	return active, nil
}

func (s *MemoryStore) IsMember(ctx context.Context, roomId, userId string) (bool, error) {
	defer s.lock()()
	_, ok := s.activeMember(roomId, userId)
	return ok, nil
}

func (s *MemoryStore) MembersSnapshot(ctx context.Context, roomId string) ([]*types.Member, error) {
	defer s.lock()()
	members := s.roomMembers(roomId)
	for i, m := range members {
		members[i] = cloneMember(m)
	}
	return members, nil
}

func (s *MemoryStore) SetMemberPrefs(ctx context.Context, roomId, userId string, prefs types.MemberPrefs) (*types.Member, error) {
	now := s.now()
	defer s.lock()()
	m, ok := s.activeMember(roomId, userId)
	if !ok {
		return nil, errs.ErrMemberNotFound
	}
	updated := cloneMember(m)
	applyPrefs(updated, prefs, now)
	set(s, s.state.members, key(roomId, userId), updated)
	return cloneMember(updated), nil
}

func (s *MemoryStore) CommitRead(ctx context.Context, roomId, userId string, targetSeq int64) (int64, *types.Member, error) {
	if targetSeq < 0 {
		_, err := clampRead(0, targetSeq, 0)
		return 0, nil, err
	}
	defer s.lock()()
	room, ok := s.state.rooms[roomId]
	if !ok {
		return 0, nil, errs.ErrRoomNotFound
	}
	m, ok := s.activeMember(roomId, userId)
	if !ok {
		return 0, nil, errs.ErrMemberNotFound
	}
	lastRead, err := clampRead(m.LastReadSeq, targetSeq, room.SeqCounter)
	if err != nil {
		return 0, nil, err
	}
	updated := cloneMember(m)
	updated.LastReadSeq = lastRead
	updated.UpdatedAt = s.now()
	set(s, s.state.members, key(roomId, userId), updated)
	return types.Unread(room.SeqCounter, lastRead), cloneMember(updated), nil
}

// Inbox

func (s *MemoryStore) UpsertInbox(ctx context.Context, item *types.InboxItem) (bool, error) {
	defer s.lock()()
	k := key(item.UserId, item.RoomId)
	stored, ok := s.state.inbox[k]
	if ok && stored.LastSeq >= item.LastSeq {
		return false, nil
	}
	row := cloneInbox(item)
	if ok {
		row.Id = stored.Id
	} else if row.Id == "" {
		row.Id = uuid.NewString()
	}
	row.UpdatedAt = s.now()
	set(s, s.state.inbox, k, row)
	return true, nil
}

func (s *MemoryStore) MarkInboxRead(ctx context.Context, userId, roomId string, unread, seqCounter int64) error {
	defer s.lock()()
	k := key(userId, roomId)
	stored, ok := s.state.inbox[k]
	if !ok || stored.LastSeq > seqCounter {
		return nil
	}
	row := cloneInbox(stored)
	row.Unread = unread
	if unread == 0 {
		row.Status = types.InboxRead
	}
	row.UpdatedAt = s.now()
	set(s, s.state.inbox, k, row)
	return nil
}

func (s *MemoryStore) ClearInbox(ctx context.Context, userId, roomId string) error {
	defer s.lock()()
	k := key(userId, roomId)
	stored, ok := s.state.inbox[k]
	if !ok {
		return nil
	}
	row := cloneInbox(stored)
	row.Status = types.InboxCleared
	row.Unread = 0
	row.UpdatedAt = s.now()
	set(s, s.state.inbox, k, row)
	return nil
}

func (s *MemoryStore) ListInbox(ctx context.Context, userId, cursor string, limit int) ([]*types.InboxItem, string, error) {
	after, err := types.DecodeActivityCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	defer s.lock()()
	items := make([]*types.InboxItem, 0)
	for _, row := range s.state.inbox {
		if row.UserId != userId || row.Status == types.InboxCleared {
			continue
		}
		if after != nil && !after.After(row.ActivityMs, row.Id) {
			continue
		}
		items = append(items, cloneInbox(row))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ActivityMs != items[j].ActivityMs {
			return items[i].ActivityMs > items[j].ActivityMs
		}
		return items[i].Id > items[j].Id
	})
	next := ""
	if len(items) > n {
		items = items[:n]
		next = types.NewActivityCursor(items[n-1].ActivityMs, items[n-1].Id).Encode()
	}
	return items, next, nil
}

// Users

func (s *MemoryStore) StoreUser(ctx context.Context, user *types.User) error {
	user.UpdatedAt = s.now()
	defer s.lock()()
	c := *user
	set(s, s.state.users, user.Id, &c)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userId string) (*types.User, error) {
	defer s.lock()()
	u, ok := s.state.users[userId]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, userId string) error {
	defer s.lock()()
	if _, ok := s.state.users[userId]; ok {
		prev := s.state.users[userId]
		delete(s.state.users, userId)
		s.record(func() { s.state.users[userId] = prev })
	}
	return nil
}
