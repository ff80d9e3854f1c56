package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

// runStoreSuite checks the Store contract; every implementation must pass it.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	tests := map[string]func(t *testing.T, s Store){
		"CreateRoom":          testCreateRoom,
		"IncrementSeq":        testIncrementSeq,
		"ConcurrentIncrement": testConcurrentIncrement,
		"InsertMessage":       testInsertMessage,
		"TransactionRollback": testTransactionRollback,
		"ListMessages":        testListMessages,
		"Membership":          testMembership,
		"CommitRead":          testCommitRead,
		"ListRoomsForMember":  testListRoomsForMember,
		"Inbox":               testInbox,
		"Users":               testUsers,
		"RoomTags":            testRoomTags,
		"AttachmentReference": testAttachmentReference,
	}
	for name, fn := range tests {
		fn := fn
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func textMessage(t *testing.T, roomId, submissionId, text string) *types.Message {
	c, err := types.NewTextContent(text)
	require.NoError(t, err)
	return types.NewMessage(fmt.Sprintf("%s-%s", roomId, submissionId), roomId, submissionId, types.AuthorSnapshot{Id: "alice", Name: "Alice"}, c)
}

// send runs the sequencing unit directly against the store.
func send(t *testing.T, s Store, roomId, submissionId string) *types.Message {
	var msg *types.Message
	err := s.Transaction(context.Background(), func(tx Store) error {
		room, err := tx.IncrementSeqAndTouch(context.Background(), roomId, submissionId)
		if err != nil {
			return err
		}
		msg, err = tx.InsertMessage(context.Background(), textMessage(t, roomId, submissionId, "hello "+submissionId), room.SeqCounter)
		return err
	})
	require.NoError(t, err)
	return msg
}

func testCreateRoom(t *testing.T, s Store) {
	ctx := context.Background()
	room, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", Name: "Runners", OwnerId: "alice", Capacity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(0), room.SeqCounter)
	assert.Equal(t, 1, room.MemberCount)
	assert.True(t, room.MemberIds.Has("alice"))

	owner, err := s.GetMember(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, types.RoleOwner, owner.Role)

	_, err = s.CreateRoom(ctx, types.RoomSpec{Id: "r1"})
	assert.True(t, errs.IsConflict(err))

	unnamed, err := s.CreateRoom(ctx, types.RoomSpec{})
	require.NoError(t, err)
	assert.NotEmpty(t, unnamed.Id)
	assert.NotEmpty(t, unnamed.Name)
	assert.Zero(t, unnamed.MemberCount)

	_, err = s.GetRoom(ctx, "nope")
	assert.True(t, errs.HasCode(err, errs.CodeRoomNotFound))
}

func testIncrementSeq(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		room, err := s.IncrementSeqAndTouch(ctx, "r1", fmt.Sprintf("preview %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, room.SeqCounter)
		assert.Equal(t, fmt.Sprintf("preview %d", i), room.LastMessage)
		require.NotNil(t, room.LastMessageAt)
		assert.Equal(t, room.LastMessageAt.UnixMilli(), room.ActivityMs)
	}
	_, err = s.IncrementSeqAndTouch(ctx, "missing", "x")
	assert.True(t, errs.HasCode(err, errs.CodeRoomNotFound))

	require.NoError(t, s.CloseRoom(ctx, "r1"))
	require.NoError(t, s.CloseRoom(ctx, "r1"))
	_, err = s.IncrementSeqAndTouch(ctx, "r1", "x")
	assert.True(t, errs.IsNotFound(err))
	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), room.SeqCounter)
	assert.True(t, room.Closed())
}

func testConcurrentIncrement(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	const writers = 16
	var wg sync.WaitGroup
	seqs := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var seq int64
			err := s.Transaction(ctx, func(tx Store) error {
				room, err := tx.IncrementSeqAndTouch(ctx, "r1", "p")
				if err != nil {
					return err
				}
				c, _ := types.NewTextContent("concurrent")
				msg := types.NewMessage(fmt.Sprintf("m%d", i), "r1", fmt.Sprintf("s%d", i), types.AuthorSnapshot{Id: "alice"}, c)
				_, err = tx.InsertMessage(ctx, msg, room.SeqCounter)
				seq = room.SeqCounter
				return err
			})
			assert.NoError(t, err)
			seqs <- seq
		}(i)
	}
	wg.Wait()
	close(seqs)
	seen := map[int64]bool{}
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d assigned twice", seq)
		seen[seq] = true
	}
	for i := int64(1); i <= writers; i++ {
		assert.True(t, seen[i], "seq %d missing", i)
	}
	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), room.SeqCounter)
	stats, err := s.MessageStats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, &MessageStats{Count: writers, DistinctSeqs: writers, MinSeq: 1, MaxSeq: writers}, stats)
}

func testInsertMessage(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	first := send(t, s, "r1", "sub-1")
	assert.Equal(t, int64(1), first.Seq)
	assert.False(t, first.CreatedAt.IsZero())

	found, err := s.FindBySubmissionId(ctx, "r1", "sub-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.Id, found.Id)
	assert.Equal(t, "Alice", found.Author.Name)
	none, err := s.FindBySubmissionId(ctx, "r1", "sub-2")
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.InsertMessage(ctx, textMessage(t, "r1", "sub-2", "again"), 1)
	assert.True(t, errs.HasCode(err, errs.CodeDuplicateSequence))

	dup := textMessage(t, "r1", "sub-1", "again")
	dup.Id = "other-id"
	_, err = s.InsertMessage(ctx, dup, 2)
	assert.True(t, errs.HasCode(err, errs.CodeDuplicateSubmit))

	_, err = s.InsertMessage(ctx, textMessage(t, "r1", "sub-3", "zero"), 0)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidSeq))

	empty := textMessage(t, "r1", "sub-4", "x")
	empty.Text = " "
	_, err = s.InsertMessage(ctx, empty, 5)
	assert.True(t, errs.HasCode(err, errs.CodeEmptyContent))

	withFile := textMessage(t, "r1", "sub-5", "")
	withFile.Kind = types.KindImage
	withFile.Attachments = []types.Attachment{{Name: "a.png", Key: "k", Mime: "image/png", Size: 3, Digest: "d"}}
	_, err = s.InsertMessage(ctx, withFile, 6)
	require.NoError(t, err)
	got, err := s.GetMessage(ctx, "r1", withFile.Id)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "image/png", got.Attachments[0].Mime)

	require.NoError(t, s.SoftDeleteMessage(ctx, "r1", first.Id))
	deleted, err := s.GetMessage(ctx, "r1", first.Id)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, first.Text, deleted.Text)
	assert.True(t, errs.IsNotFound(s.SoftDeleteMessage(ctx, "r1", "missing")))
}

func testTransactionRollback(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	send(t, s, "r1", "sub-1")

	boom := fmt.Errorf("storage unavailable")
	err = s.Transaction(ctx, func(tx Store) error {
		room, err := tx.IncrementSeqAndTouch(ctx, "r1", "lost")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), room.SeqCounter)
		if _, err := tx.InsertMessage(ctx, textMessage(t, "r1", "sub-2", "lost"), room.SeqCounter); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, errs.Retryable(err))

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.SeqCounter)
	assert.Equal(t, "sub-1", room.LastMessage)
	lost, err := s.FindBySubmissionId(ctx, "r1", "sub-2")
	assert.NoError(t, err)
	assert.Nil(t, lost)

	// a failing insert rolls back the increment as well
	err = s.Transaction(ctx, func(tx Store) error {
		room, err := tx.IncrementSeqAndTouch(ctx, "r1", "dup")
		if err != nil {
			return err
		}
		_, err = tx.InsertMessage(ctx, textMessage(t, "r1", "sub-1", "dup"), room.SeqCounter)
		return err
	})
	assert.True(t, errs.HasCode(err, errs.CodeDuplicateSubmit))
	room, err = s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.SeqCounter)

	next := send(t, s, "r1", "sub-3")
	assert.Equal(t, int64(2), next.Seq)
}

func testListMessages(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		send(t, s, "r1", fmt.Sprintf("sub-%d", i))
	}
	var seqs []int64
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		msgs, next, err := s.ListMessages(ctx, "r1", cursor, 2)
		require.NoError(t, err)
		for _, m := range msgs {
			seqs = append(seqs, m.Seq)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seqs)

	_, _, err = s.ListMessages(ctx, "r1", "garbage!", 2)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidCursor))
}

func testMembership(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice", Capacity: 2})
	require.NoError(t, err)
	send(t, s, "r1", "sub-1")

	bob, joined, err := s.UpsertMember(ctx, "r1", "bob", "")
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, types.RoleMember, bob.Role)
	assert.Equal(t, int64(1), bob.LastReadSeq)

	again, joined, err := s.UpsertMember(ctx, "r1", "bob", types.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Equal(t, types.RoleAdmin, again.Role)

	_, _, err = s.UpsertMember(ctx, "r1", "carol", types.RoleMember)
	assert.True(t, errs.HasCode(err, errs.CodeRoomFull))
	_, _, err = s.UpsertMember(ctx, "r1", "carol", "king")
	assert.True(t, errs.IsValidation(err))
	_, _, err = s.UpsertMember(ctx, "missing", "carol", types.RoleMember)
	assert.True(t, errs.IsNotFound(err))

	ok, err := s.IsMember(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := s.RemoveMember(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveMember(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.False(t, removed)
	ok, err = s.IsMember(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetMember(ctx, "r1", "bob")
	assert.True(t, errs.HasCode(err, errs.CodeMemberNotFound))

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, room.MemberCount)
	assert.Equal(t, []string{"alice"}, room.MemberIds.Sorted())

	send(t, s, "r1", "sub-2")
	back, joined, err := s.UpsertMember(ctx, "r1", "bob", types.RoleMember)
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, bob.Id, back.Id)
	assert.Equal(t, int64(1), back.LastReadSeq)

	_, _, err = s.UpsertMember(ctx, "r1", "carol", types.RoleMember)
	assert.True(t, errs.HasCode(err, errs.CodeRoomFull))
	room, err = s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, room.MemberCount, len(room.MemberIds))
	assert.Equal(t, 2, room.MemberCount)

	snapshot, err := s.MembersSnapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)

	var ids []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		members, next, err := s.ListMembers(ctx, "r1", cursor, 1)
		require.NoError(t, err)
		for _, m := range members {
			ids = append(ids, m.UserId)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	muted := true
	nick := "  Bobby "
	prefs, err := s.SetMemberPrefs(ctx, "r1", "bob", types.MemberPrefs{Muted: &muted, Nickname: &nick})
	require.NoError(t, err)
	assert.True(t, prefs.Muted)
	assert.NotNil(t, prefs.MutedAt)
	assert.Equal(t, "Bobby", prefs.Nickname)
	_, err = s.SetMemberPrefs(ctx, "r1", "dave", types.MemberPrefs{Muted: &muted})
	assert.True(t, errs.IsNotFound(err))
}

func testCommitRead(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		send(t, s, "r1", fmt.Sprintf("sub-%d", i))
	}

	unread, m, err := s.CommitRead(ctx, "r1", "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)
	assert.Equal(t, int64(3), m.LastReadSeq)

	unread, m, err = s.CommitRead(ctx, "r1", "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)
	assert.Equal(t, int64(3), m.LastReadSeq)

	unread, m, err = s.CommitRead(ctx, "r1", "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
	assert.Equal(t, int64(5), m.LastReadSeq)

	_, _, err = s.CommitRead(ctx, "r1", "alice", -1)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidSeq))
	_, _, err = s.CommitRead(ctx, "r1", "bob", 1)
	assert.True(t, errs.HasCode(err, errs.CodeMemberNotFound))

	// concurrent commits merge to the maximum regardless of arrival order
	var wg sync.WaitGroup
	send(t, s, "r1", "sub-6")
	send(t, s, "r1", "sub-7")
	for _, target := range []int64{7, 6, 5, 7, 6} {
		wg.Add(1)
		go func(target int64) {
			defer wg.Done()
			_, _, err := s.CommitRead(ctx, "r1", "alice", target)
			assert.NoError(t, err)
		}(target)
	}
	wg.Wait()
	m, err = s.GetMember(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.LastReadSeq)
}

func testListRoomsForMember(t *testing.T, s Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.CreateRoom(ctx, types.RoomSpec{Id: id, Name: "Room " + id, OwnerId: "alice", Tags: map[string]string{"sport": "run"}})
		require.NoError(t, err)
	}
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "other", OwnerId: "bob"})
	require.NoError(t, err)
	send(t, s, "b", "s1")
	time.Sleep(2 * time.Millisecond)
	send(t, s, "a", "s1")
	send(t, s, "a", "s2")

	var order []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		items, next, err := s.ListRoomsForMember(ctx, "alice", types.RoomFilter{}, cursor, 3)
		require.NoError(t, err)
		for _, item := range items {
			order = append(order, item.Room.Id)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	// rooms without messages sort last, ties broken by id descending
	assert.Equal(t, []string{"a", "b", "d", "c"}, order)

	items, _, err := s.ListRoomsForMember(ctx, "alice", types.RoomFilter{Expr: `Unread > 1`}, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Room.Id)
	assert.Equal(t, int64(2), items[0].Unread)

	pinned := true
	_, err = s.SetMemberPrefs(ctx, "c", "alice", types.MemberPrefs{Pinned: &pinned})
	require.NoError(t, err)
	items, _, err = s.ListRoomsForMember(ctx, "alice", types.RoomFilter{Pinned: &pinned}, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].Room.Id)

	items, _, err = s.ListRoomsForMember(ctx, "alice", types.RoomFilter{Search: "ROOM D"}, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "d", items[0].Room.Id)

	_, _, err = s.ListRoomsForMember(ctx, "alice", types.RoomFilter{Expr: `Unread +`}, "", 10)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))

	require.NoError(t, s.CloseRoom(ctx, "d"))
	_, err = s.RemoveMember(ctx, "c", "alice")
	require.NoError(t, err)
	items, _, err = s.ListRoomsForMember(ctx, "alice", types.RoomFilter{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	all, next, err := s.ListRooms(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Len(t, all, 5)
}

func testInbox(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)
	item := func(roomId string, seq int64, unread int64, offset time.Duration) *types.InboxItem {
		ts := at.Add(offset)
		return &types.InboxItem{
			UserId: "bob", RoomId: roomId, RoomName: "Room " + roomId,
			LastMessageId: fmt.Sprintf("%s-%d", roomId, seq), LastSeq: seq, LastMessage: "hi",
			LastMessageAt: &ts, ActivityMs: ts.UnixMilli(), Unread: unread, Status: types.InboxQueued,
		}
	}
	applied, err := s.UpsertInbox(ctx, item("r1", 2, 2, 0))
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = s.UpsertInbox(ctx, item("r1", 1, 1, -time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = s.UpsertInbox(ctx, item("r1", 3, 3, time.Second))
	require.NoError(t, err)
	assert.True(t, applied)
	_, err = s.UpsertInbox(ctx, item("r2", 1, 1, 2*time.Second))
	require.NoError(t, err)
	_, err = s.UpsertInbox(ctx, item("r3", 1, 1, -time.Minute))
	require.NoError(t, err)

	page, next, err := s.ListInbox(ctx, "bob", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].RoomId)
	assert.Equal(t, "r1", page[1].RoomId)
	assert.Equal(t, int64(3), page[1].Unread)
	assert.Equal(t, int64(3), page[1].LastSeq)
	require.NotEmpty(t, next)
	rest, next, err := s.ListInbox(ctx, "bob", next, 2)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, rest, 1)
	assert.Equal(t, "r3", rest[0].RoomId)

	// a read computed at an older counter does not clobber a newer row
	require.NoError(t, s.MarkInboxRead(ctx, "bob", "r1", 0, 2))
	page, _, err = s.ListInbox(ctx, "bob", "", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page[1].Unread)
	require.NoError(t, s.MarkInboxRead(ctx, "bob", "r1", 0, 3))
	page, _, err = s.ListInbox(ctx, "bob", "", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), page[1].Unread)
	assert.Equal(t, types.InboxRead, page[1].Status)

	require.NoError(t, s.ClearInbox(ctx, "bob", "r2"))
	page, _, err = s.ListInbox(ctx, "bob", "", 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.StoreUser(ctx, &types.User{Id: "alice", Nick: "Alice"}))
	require.NoError(t, s.StoreUser(ctx, &types.User{Id: "alice", Nick: "Alice B.", AvatarURL: "https://img/a.png"}))
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", u.Nick)
	assert.Equal(t, types.AuthorSnapshot{Id: "alice", Name: "Alice B.", AvatarURL: "https://img/a.png"}, u.Snapshot())
	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.GetUser(ctx, "alice")
	assert.True(t, errs.HasCode(err, errs.CodeUserNotFound))
}

func testRoomTags(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", Tags: map[string]string{"level": "1"}})
	require.NoError(t, err)
	oks, err := s.UpdateRoomTags(ctx, "r1", []*types.TagUpdate{{Name: "level", Type: types.TagValueInt, Expression: `AsInt(Tags["level"]) + 1`}})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, oks)
	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "2", room.Tags["level"])
	_, err = s.UpdateRoomTags(ctx, "missing", nil)
	assert.True(t, errs.IsNotFound(err))
}

func testAttachmentReference(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	msg := textMessage(t, "r1", "sub-1", "")
	msg.Kind = types.KindFile
	msg.Attachments = []types.Attachment{{Name: "a_b.txt", Key: "r1/u-1/a_b.txt", Mime: "text/plain", Size: 1, Digest: "d"}}
	_, err = s.InsertMessage(ctx, msg, 1)
	require.NoError(t, err)

	for key, want := range map[string]bool{
		"r1/u-1/a_b.txt": true,
		"r1/u-1/a":       false,
		"r1/u-2/a_b.txt": false,
		"r2/u-1/a_b.txt": false,
	} {
		got, err := s.AttachmentReferenced(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	// deleted messages keep their objects
	require.NoError(t, s.SoftDeleteMessage(ctx, "r1", msg.Id))
	got, err := s.AttachmentReferenced(ctx, "r1/u-1/a_b.txt")
	require.NoError(t, err)
	assert.True(t, got)
}
