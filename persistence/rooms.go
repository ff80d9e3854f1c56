package persistence

import (
	"strings"
	"time"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/filter"
	"github.com/tcriess/stride-chat/types"
)

func defaultRoomName() string {
	return goname.New(goname.FantasyMap).FirstLast() + "'s room"
}

// newRoom builds a room and, when an owner is named, its owner membership.
func newRoom(spec types.RoomSpec, now time.Time) (*types.Room, *types.Member, error) {
	if spec.Capacity < 0 {
		return nil, nil, errs.Validation(errs.CodeInvalidPayload, "negative capacity")
	}
	id := spec.Id
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = defaultRoomName()
	}
	room := &types.Room{
		Id:          id,
		Name:        name,
		Description: spec.Description,
		ImageURL:    spec.ImageURL,
		Capacity:    spec.Capacity,
		OwnerId:     spec.OwnerId,
		MemberIds:   types.NewStringSet(),
		Tags:        types.JSONStringMap(spec.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if room.Tags == nil {
		room.Tags = types.JSONStringMap{}
	}
	if spec.OwnerId == "" {
		return room, nil, nil
	}
	room.MemberIds.Add(spec.OwnerId)
	room.MemberCount = 1
	owner := &types.Member{
		Id:        uuid.NewString(),
		RoomId:    id,
		UserId:    spec.OwnerId,
		Role:      types.RoleOwner,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	return room, owner, nil
}

// admit applies a join to the locked room and the existing member record (nil when
// the user never joined). It returns the record to persist and whether it is a new join.
func admit(room *types.Room, existing *types.Member, userId string, role types.Role, now time.Time) (*types.Member, bool, error) {
	if role == "" {
		role = types.RoleMember
	}
	if !role.Valid() {
		return nil, false, errs.Validation(errs.CodeInvalidPayload, "invalid role "+string(role))
	}
	if existing != nil && existing.Active() {
		m := *existing
		m.Role = role
		m.UpdatedAt = now
		return &m, false, nil
	}
	if room.Capacity > 0 && room.MemberCount >= room.Capacity {
		return nil, false, errs.ErrRoomFull
	}
	var m types.Member
	if existing != nil {
		// rejoin keeps the read position
		m = *existing
		m.LeftAt = nil
	} else {
		// a new member starts with the history read
		m = types.Member{Id: uuid.NewString(), RoomId: room.Id, UserId: userId, LastReadSeq: room.SeqCounter}
	}
	m.Role = role
	m.JoinedAt = now
	m.UpdatedAt = now
	if room.MemberIds == nil {
		room.MemberIds = types.NewStringSet()
	}
	room.MemberIds.Add(userId)
	room.MemberCount = len(room.MemberIds)
	room.UpdatedAt = now
	return &m, true, nil
}

// clampRead is the read position after committing targetSeq.
func clampRead(current, targetSeq, seqCounter int64) (int64, error) {
	if targetSeq < 0 {
		return 0, errs.Validation(errs.CodeInvalidSeq, "read position must not be negative")
	}
	if targetSeq > seqCounter {
		targetSeq = seqCounter
	}
	if targetSeq < current {
		return current, nil
	}
	return targetSeq, nil
}

// roomPage fetches one page of a member's rooms. fetch returns up to limit
// items after the cursor in (activity desc, id desc) order; items rejected by
// the filter are skipped and fetching continues until the page is full.
func roomPage(fetch func(after *types.ActivityCursor, limit int) ([]*types.RoomListItem, error), f types.RoomFilter, cursor string, limit int) ([]*types.RoomListItem, string, error) {
	after, err := types.DecodeActivityCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	prog, err := filter.CompileRoomFilter(f.Expr)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	batch := n + 1
	if prog != nil {
		batch = 2 * n
	}
	items := make([]*types.RoomListItem, 0, n+1)
	for len(items) <= n {
		fetched, err := fetch(after, batch)
		if err != nil {
			return nil, "", err
		}
		for _, item := range fetched {
			if prog.Match(item) {
				items = append(items, item)
				if len(items) > n {
					break
				}
			}
		}
		if len(fetched) < batch {
			break
		}
		last := fetched[len(fetched)-1].Room
		c := types.NewActivityCursor(last.ActivityMs, last.Id)
		after = &c
	}
	next := ""
	if len(items) > n {
		items = items[:n]
		last := items[n-1].Room
		next = types.NewActivityCursor(last.ActivityMs, last.Id).Encode()
	}
	return items, next, nil
}

func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(search)) + "%"
}

func applyPrefs(m *types.Member, prefs types.MemberPrefs, now time.Time) {
	if prefs.Pinned != nil {
		m.Pinned = *prefs.Pinned
	}
	if prefs.Muted != nil && *prefs.Muted != m.Muted {
		m.Muted = *prefs.Muted
		if m.Muted {
			m.MutedAt = &now
		} else {
			m.MutedAt = nil
		}
	}
	if prefs.Nickname != nil {
		m.Nickname = strings.TrimSpace(*prefs.Nickname)
	}
	m.UpdatedAt = now
}
