package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/auth"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/media"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/profiles"
	"github.com/tcriess/stride-chat/sequencer"
	"github.com/tcriess/stride-chat/types"
)

type fixture struct {
	router *mux.Router
	store  persistence.Store
	coord  *sequencer.Coordinator
	jwt    *auth.JWTAuthenticator
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	logger := hclog.NewNullLogger()
	store := persistence.NewMemoryStore()
	_, err := store.CreateRoom(ctx, types.RoomSpec{Id: "r1", Name: "Run club", OwnerId: "alice"})
	require.NoError(t, err)
	_, err = store.CreateRoom(ctx, types.RoomSpec{Id: "r2", Name: "Book club", OwnerId: "alice"})
	require.NoError(t, err)
	_, _, err = store.UpsertMember(ctx, "r1", "bob", types.RoleMember)
	require.NoError(t, err)

	dir, err := profiles.NewDirectory(store, 16, logger)
	require.NoError(t, err)
	ledger, err := media.OpenStagingLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	coord := sequencer.New(store, media.NewUploader(media.NewMemoryObjectStore(""), ledger, logger), dir, nil, sequencer.Options{}, logger)

	jwt := auth.NewJWTAuthenticator("s3cret", "")
	router := mux.NewRouter()
	New(jwt, store, coord, logger).Routes(router)
	return &fixture{router: router, store: store, coord: coord, jwt: jwt}
}

func (f *fixture) do(t *testing.T, userId, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if userId != "" {
		token, err := f.jwt.Issue(userId, "", time.Hour)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func (f *fixture) send(t *testing.T, roomId string, texts ...string) {
	for _, text := range texts {
		_, err := f.coord.Send(context.Background(), "alice", types.SendRequest{RoomId: roomId, Text: text})
		require.NoError(t, err)
	}
}

type listing[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor"`
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	e := types.ErrorEvent{}
	decodeBody(t, w, &e)
	return e.Code
}

func TestRequiresCredentials(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "", http.MethodGet, "/api/rooms", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errs.CodeUnauthenticated, errorCode(t, w))
}

func TestMessagesPaging(t *testing.T) {
	f := newFixture(t)
	f.send(t, "r1", "one", "two", "three")

	w := f.do(t, "bob", http.MethodGet, "/api/rooms/r1/messages?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	first := listing[types.MessageNew]{}
	decodeBody(t, w, &first)
	require.Len(t, first.Items, 2)
	assert.Equal(t, int64(3), first.Items[0].Seq)
	assert.Equal(t, int64(2), first.Items[1].Seq)
	require.NotEmpty(t, first.NextCursor)

	w = f.do(t, "bob", http.MethodGet, "/api/rooms/r1/messages?limit=2&cursor="+first.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	second := listing[types.MessageNew]{}
	decodeBody(t, w, &second)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "one", second.Items[0].Text)
	assert.Empty(t, second.NextCursor)

	w = f.do(t, "bob", http.MethodGet, "/api/rooms/r1/messages?cursor=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, "bob", http.MethodGet, "/api/rooms/r1/messages?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessagesMemberOnly(t *testing.T) {
	f := newFixture(t)
	f.send(t, "r2", "secret")
	w := f.do(t, "bob", http.MethodGet, "/api/rooms/r2/messages", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errs.CodeForbidden, errorCode(t, w))
}

func TestRoomsWithUnread(t *testing.T) {
	f := newFixture(t)
	f.send(t, "r1", "one", "two")
	f.send(t, "r2", "three")

	w := f.do(t, "alice", http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	all := listing[types.RoomListItem]{}
	decodeBody(t, w, &all)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "r2", all.Items[0].Room.Id)

	w = f.do(t, "bob", http.MethodGet, "/api/rooms?q=RUN", "")
	require.Equal(t, http.StatusOK, w.Code)
	mine := listing[types.RoomListItem]{}
	decodeBody(t, w, &mine)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, int64(2), mine.Items[0].Unread)

	w = f.do(t, "bob", http.MethodGet, "/api/rooms?expr="+"Unread%20%3E%205", "")
	require.Equal(t, http.StatusOK, w.Code)
	none := listing[types.RoomListItem]{}
	decodeBody(t, w, &none)
	assert.Empty(t, none.Items)

	w = f.do(t, "bob", http.MethodGet, "/api/rooms?pinned=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.CodeInvalidFilter, errorCode(t, w))

	w = f.do(t, "bob", http.MethodGet, "/api/rooms?expr=Unread%20%3E", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.CodeInvalidFilter, errorCode(t, w))
}

func TestReadAndNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "r1", "one", "two", "three")
	room, err := f.store.GetRoom(ctx, "r1")
	require.NoError(t, err)
	_, err = f.store.UpsertInbox(ctx, &types.InboxItem{
		UserId:        "bob",
		RoomId:        "r1",
		RoomName:      room.Name,
		LastSeq:       3,
		LastMessage:   room.LastMessage,
		LastMessageAt: room.LastMessageAt,
		ActivityMs:    room.ActivityMs,
		Unread:        3,
		Status:        types.InboxQueued,
	})
	require.NoError(t, err)

	w := f.do(t, "bob", http.MethodPost, "/api/rooms/r1/read", `{"seq": 2}`)
	require.Equal(t, http.StatusOK, w.Code)
	read := readResponse{}
	decodeBody(t, w, &read)
	assert.Equal(t, int64(1), read.Unread)

	w = f.do(t, "bob", http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	inbox := listing[types.InboxItem]{}
	decodeBody(t, w, &inbox)
	require.Len(t, inbox.Items, 1)
	assert.Equal(t, "Run club", inbox.Items[0].RoomName)
	assert.Equal(t, "three", inbox.Items[0].LastMessage)
	assert.Equal(t, int64(1), inbox.Items[0].Unread)

	w = f.do(t, "bob", http.MethodPost, "/api/rooms/r1/read", `nope`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, "bob", http.MethodPost, "/api/rooms/r1/read", `{"seq": -1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "carol", http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	empty := listing[types.InboxItem]{}
	decodeBody(t, w, &empty)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}

func TestPrefsFilterRooms(t *testing.T) {
	f := newFixture(t)
	f.send(t, "r1", "one")
	f.send(t, "r2", "two")

	w := f.do(t, "alice", http.MethodPatch, "/api/rooms/r1/prefs", `{"pinned": true, "nickname": "runner"}`)
	require.Equal(t, http.StatusOK, w.Code)
	member := types.Member{}
	decodeBody(t, w, &member)
	assert.True(t, member.Pinned)
	assert.False(t, member.Muted)
	assert.Equal(t, "runner", member.Nickname)

	w = f.do(t, "alice", http.MethodPatch, "/api/rooms/r2/prefs", `{"muted": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "alice", http.MethodGet, "/api/rooms?pinned=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	pinned := listing[types.RoomListItem]{}
	decodeBody(t, w, &pinned)
	require.Len(t, pinned.Items, 1)
	assert.Equal(t, "r1", pinned.Items[0].Room.Id)

	w = f.do(t, "alice", http.MethodGet, "/api/rooms?muted=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	muted := listing[types.RoomListItem]{}
	decodeBody(t, w, &muted)
	require.Len(t, muted.Items, 1)
	assert.Equal(t, "r2", muted.Items[0].Room.Id)

	w = f.do(t, "bob", http.MethodPatch, "/api/rooms/r2/prefs", `{"pinned": true}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errs.CodeForbidden, errorCode(t, w))
	w = f.do(t, "alice", http.MethodPatch, "/api/rooms/r1/prefs", `{"color": "red"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "r1", "one")
	_, err := f.store.UpsertInbox(ctx, &types.InboxItem{UserId: "bob", RoomId: "r1", LastSeq: 1, Unread: 1, Status: types.InboxQueued})
	require.NoError(t, err)

	w := f.do(t, "bob", http.MethodDelete, "/api/notifications/r1", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, "bob", http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	inbox := listing[types.InboxItem]{}
	decodeBody(t, w, &inbox)
	assert.Empty(t, inbox.Items)

	// nothing to clear is fine
	w = f.do(t, "bob", http.MethodDelete, "/api/notifications/r2", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
