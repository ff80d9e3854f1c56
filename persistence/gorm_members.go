package persistence

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (p *GormStore) GetMember(ctx context.Context, roomId, userId string) (*types.Member, error) {
	m := &types.Member{}
	err := p.db.WithContext(ctx).Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).First(m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrMemberNotFound
	}
	if err != nil {
		return nil, classify(err, "get member")
	}
	return m, nil
}

func (p *GormStore) ListMembers(ctx context.Context, roomId, cursor string, limit int) ([]*types.Member, string, error) {
	after, err := types.DecodeKeyCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	q := p.db.WithContext(ctx).Where("room_id = ? AND left_at IS NULL", roomId)
	if after != "" {
		q = q.Where("id > ?", after)
	}
	members := make([]*types.Member, 0)
	if err := q.Order("id ASC").Limit(n + 1).Find(&members).Error; err != nil {
		return nil, "", classify(err, "list members")
	}
	next := ""
	if len(members) > n {
		members = members[:n]
		next = types.EncodeKeyCursor(members[n-1].Id)
	}
	return members, next, nil
}

// lockOpenRoom reads the room for update; closed rooms count as absent.
func lockOpenRoom(tx *gorm.DB, roomId string) (*types.Room, error) {
	room := &types.Room{}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ? AND closed_at IS NULL", roomId).First(room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrRoomNotFound
	}
	return room, err
}

func (p *GormStore) UpsertMember(ctx context.Context, roomId, userId string, role types.Role) (*types.Member, bool, error) {
	now := p.now()
	var member *types.Member
	var joined bool
	err := p.tx(ctx, func(tx *gorm.DB) error {
		room, err := lockOpenRoom(tx, roomId)
		if err != nil {
			return err
		}
		var existing *types.Member
		found := &types.Member{}
		err = tx.Where("room_id = ? AND user_id = ?", roomId, userId).First(found).Error
		switch {
		case err == nil:
			existing = found
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		member, joined, err = admit(room, existing, userId, role, now)
		if err != nil {
			return err
		}
		if existing == nil {
			err = tx.Create(member).Error
		} else {
			err = tx.Save(member).Error
		}
		if err != nil {
			return err
		}
		if !joined {
			return nil
		}
		return tx.Model(room).Updates(map[string]interface{}{
			"member_ids":   room.MemberIds,
			"member_count": room.MemberCount,
			"updated_at":   now,
		}).Error
	})
	if err != nil {
		return nil, false, classify(err, "upsert member")
	}
	return member, joined, nil
}

func (p *GormStore) RemoveMember(ctx context.Context, roomId, userId string) (bool, error) {
	now := p.now()
	removed := false
	err := p.tx(ctx, func(tx *gorm.DB) error {
		room, err := lockOpenRoom(tx, roomId)
		if err != nil {
			return err
		}
		res := tx.Model(&types.Member{}).Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).
			Updates(map[string]interface{}{"left_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected > 0
		if !room.MemberIds.Remove(userId) && !removed {
			return nil
		}
		return tx.Model(room).Updates(map[string]interface{}{
			"member_ids":   room.MemberIds,
			"member_count": len(room.MemberIds),
			"updated_at":   now,
		}).Error
	})
	if err != nil {
		return false, classify(err, "remove member")
	}
	return removed, nil
}

func (p *GormStore) IsMember(ctx context.Context, roomId, userId string) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&types.Member{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).Count(&count).Error
	if err != nil {
		return false, classify(err, "is member")
	}
	return count > 0, nil
}

func (p *GormStore) MembersSnapshot(ctx context.Context, roomId string) ([]*types.Member, error) {
	members := make([]*types.Member, 0)
	err := p.db.WithContext(ctx).Where("room_id = ? AND left_at IS NULL", roomId).Order("id ASC").Find(&members).Error
	if err != nil {
		return nil, classify(err, "members snapshot")
	}
	return members, nil
}

func (p *GormStore) SetMemberPrefs(ctx context.Context, roomId, userId string, prefs types.MemberPrefs) (*types.Member, error) {
	now := p.now()
	member := &types.Member{}
	err := p.tx(ctx, func(tx *gorm.DB) error {
		err := tx.Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).First(member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrMemberNotFound
		}
		if err != nil {
			return err
		}
		applyPrefs(member, prefs, now)
		return tx.Save(member).Error
	})
	if err != nil {
		return nil, classify(err, "set member prefs")
	}
	return member, nil
}

func (p *GormStore) CommitRead(ctx context.Context, roomId, userId string, targetSeq int64) (int64, *types.Member, error) {
	if targetSeq < 0 {
		_, err := clampRead(0, targetSeq, 0)
		return 0, nil, err
	}
	var unread int64
	member := &types.Member{}
	err := p.tx(ctx, func(tx *gorm.DB) error {
		room := &types.Room{}
		err := tx.Where("id = ?", roomId).First(room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		target := targetSeq
		if target > room.SeqCounter {
			target = room.SeqCounter
		}
		// max-merge in a single conditional update; concurrent commits never move the pointer backward
		res := tx.Model(&types.Member{}).
			Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).
			Updates(map[string]interface{}{
				"last_read_seq": gorm.Expr("CASE WHEN last_read_seq < ? THEN ? ELSE last_read_seq END", target, target),
				"updated_at":    p.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrMemberNotFound
		}
		if err := tx.Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomId, userId).First(member).Error; err != nil {
			return err
		}
		unread = types.Unread(room.SeqCounter, member.LastReadSeq)
		return nil
	})
	if err != nil {
		return 0, nil, classify(err, "commit read")
	}
	return unread, member, nil
}
