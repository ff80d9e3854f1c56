package persistence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/filter"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (p *GormStore) CreateRoom(ctx context.Context, spec types.RoomSpec) (*types.Room, error) {
	room, owner, err := newRoom(spec, p.now())
	if err != nil {
		return nil, err
	}
	err = p.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		if owner != nil {
			return tx.Create(owner).Error
		}
		return nil
	})
	if uniqueViolation(err) != "" {
		return nil, errs.Conflict(errs.CodeInvalidRoomId, "room "+room.Id+" already exists")
	}
	if err != nil {
		return nil, classify(err, "create room")
	}
	return room, nil
}

func (p *GormStore) IncrementSeqAndTouch(ctx context.Context, roomId, preview string) (*types.Room, error) {
	now := p.now()
	room := &types.Room{}
	err := p.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.Room{}).Where("id = ? AND closed_at IS NULL", roomId).Updates(map[string]interface{}{
			"seq_counter":     gorm.Expr("seq_counter + 1"),
			"last_message":    preview,
			"last_message_at": now,
			"activity_ms":     now.UnixMilli(),
			"updated_at":      now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrRoomNotFound
		}
		return tx.Where("id = ?", roomId).First(room).Error
	})
	if err != nil {
		return nil, classify(err, "increment sequence")
	}
	return room, nil
}

func (p *GormStore) GetRoom(ctx context.Context, roomId string) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.WithContext(ctx).Where("id = ?", roomId).First(room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrRoomNotFound
	}
	if err != nil {
		return nil, classify(err, "get room")
	}
	return room, nil
}

func (p *GormStore) CloseRoom(ctx context.Context, roomId string) error {
	now := p.now()
	err := p.tx(ctx, func(tx *gorm.DB) error {
		room := &types.Room{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", roomId).First(room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrRoomNotFound
		}
		if err != nil || room.Closed() {
			return err
		}
		return tx.Model(room).Updates(map[string]interface{}{"closed_at": now, "updated_at": now}).Error
	})
	return classify(err, "close room")
}

// UpdateRoomTags applies tag update expressions to the room's tags atomically.
func (p *GormStore) UpdateRoomTags(ctx context.Context, roomId string, updates []*types.TagUpdate) ([]bool, error) {
	var res []bool
	err := p.tx(ctx, func(tx *gorm.DB) error {
		room := &types.Room{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", roomId).First(room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		tags := room.Tags
		if tags == nil {
			tags = types.JSONStringMap{}
		}
		res = filter.UpdateTags(tags, updates)
		return tx.Model(room).Updates(map[string]interface{}{"tags": tags, "updated_at": p.now()}).Error
	})
	if err != nil {
		return nil, classify(err, "update room tags")
	}
	return res, nil
}

func afterActivity(q *gorm.DB, table string, after *types.ActivityCursor) *gorm.DB {
	if after == nil {
		return q
	}
	at := after.ActivityMs()
	return q.Where("("+table+".activity_ms < ? OR ("+table+".activity_ms = ? AND "+table+".id < ?))", at, at, after.Id)
}

func (p *GormStore) ListRooms(ctx context.Context, cursor string, limit int) ([]*types.Room, string, error) {
	after, err := types.DecodeActivityCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	rooms := make([]*types.Room, 0)
	q := afterActivity(p.db.WithContext(ctx).Model(&types.Room{}), "rooms", after)
	err = q.Order("activity_ms DESC, id DESC").Limit(n + 1).Find(&rooms).Error
	if err != nil {
		return nil, "", classify(err, "list rooms")
	}
	next := ""
	if len(rooms) > n {
		rooms = rooms[:n]
		next = types.NewActivityCursor(rooms[n-1].ActivityMs, rooms[n-1].Id).Encode()
	}
	return rooms, next, nil
}

func (p *GormStore) ListRoomsForMember(ctx context.Context, userId string, f types.RoomFilter, cursor string, limit int) ([]*types.RoomListItem, string, error) {
	fetch := func(after *types.ActivityCursor, limit int) ([]*types.RoomListItem, error) {
		q := p.db.WithContext(ctx).Model(&types.Room{}).Select("rooms.*").
			Joins("JOIN members ON members.room_id = rooms.id AND members.user_id = ? AND members.left_at IS NULL", userId).
			Where("rooms.closed_at IS NULL")
		if f.Pinned != nil {
			q = q.Where("members.pinned = ?", *f.Pinned)
		}
		if f.Muted != nil {
			q = q.Where("members.muted = ?", *f.Muted)
		}
		if f.Search != "" {
			q = q.Where(`LOWER(rooms.name) LIKE ? ESCAPE '\'`, likePattern(f.Search))
		}
		rooms := make([]*types.Room, 0)
		err := afterActivity(q, "rooms", after).Order("rooms.activity_ms DESC, rooms.id DESC").Limit(limit).Find(&rooms).Error
		if err != nil || len(rooms) == 0 {
			return nil, err
		}
		ids := make([]string, len(rooms))
		for i, r := range rooms {
			ids[i] = r.Id
		}
		members := make([]*types.Member, 0, len(rooms))
		err = p.db.WithContext(ctx).Where("user_id = ? AND room_id IN ? AND left_at IS NULL", userId, ids).Find(&members).Error
		if err != nil {
			return nil, err
		}
		byRoom := make(map[string]*types.Member, len(members))
		for _, m := range members {
			byRoom[m.RoomId] = m
		}
		items := make([]*types.RoomListItem, 0, len(rooms))
		for _, r := range rooms {
			m, ok := byRoom[r.Id]
			if !ok {
				continue // left between the two reads
			}
			items = append(items, &types.RoomListItem{Room: r, Member: m, Unread: types.Unread(r.SeqCounter, m.LastReadSeq)})
		}
		return items, nil
	}
	items, next, err := roomPage(fetch, f, cursor, limit)
	if err != nil {
		return nil, "", classify(err, "list rooms for member")
	}
	return items, next, nil
}
