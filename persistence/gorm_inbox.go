package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var inboxUpdateColumns = []string{
	"room_name", "last_message_id", "last_seq", "last_message", "last_message_at",
	"activity_ms", "unread", "status", "muted_at", "updated_at",
}

func (p *GormStore) UpsertInbox(ctx context.Context, item *types.InboxItem) (bool, error) {
	row := *item
	if row.Id == "" {
		row.Id = uuid.NewString()
	}
	row.UpdatedAt = p.now()
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns(inboxUpdateColumns),
		Where:     clause.Where{Exprs: []clause.Expression{gorm.Expr("inbox_items.last_seq < excluded.last_seq")}},
	}).Create(&row)
	if res.Error != nil {
		return false, classify(res.Error, "upsert inbox")
	}
	return res.RowsAffected > 0, nil
}

func (p *GormStore) MarkInboxRead(ctx context.Context, userId, roomId string, unread, seqCounter int64) error {
	updates := map[string]interface{}{"unread": unread, "updated_at": p.now()}
	if unread == 0 {
		updates["status"] = types.InboxRead
	}
	err := p.db.WithContext(ctx).Model(&types.InboxItem{}).
		Where("user_id = ? AND room_id = ? AND last_seq <= ?", userId, roomId, seqCounter).
		Updates(updates).Error
	return classify(err, "mark inbox read")
}

func (p *GormStore) ClearInbox(ctx context.Context, userId, roomId string) error {
	err := p.db.WithContext(ctx).Model(&types.InboxItem{}).
		Where("user_id = ? AND room_id = ?", userId, roomId).
		Updates(map[string]interface{}{"status": types.InboxCleared, "unread": 0, "updated_at": p.now()}).Error
	return classify(err, "clear inbox")
}

func (p *GormStore) ListInbox(ctx context.Context, userId, cursor string, limit int) ([]*types.InboxItem, string, error) {
	after, err := types.DecodeActivityCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	q := p.db.WithContext(ctx).Model(&types.InboxItem{}).Where("user_id = ? AND status <> ?", userId, types.InboxCleared)
	items := make([]*types.InboxItem, 0)
	err = afterActivity(q, "inbox_items", after).Order("activity_ms DESC, id DESC").Limit(n + 1).Find(&items).Error
	if err != nil {
		return nil, "", classify(err, "list inbox")
	}
	next := ""
	if len(items) > n {
		items = items[:n]
		next = types.NewActivityCursor(items[n-1].ActivityMs, items[n-1].Id).Encode()
	}
	return items, next, nil
}
