package persistence

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/gorm"
)

func (p *GormStore) FindBySubmissionId(ctx context.Context, roomId, submissionId string) (*types.Message, error) {
	msg := &types.Message{}
	err := p.db.WithContext(ctx).Where("room_id = ? AND submission_id = ?", roomId, submissionId).First(msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find submission")
	}
	return msg, nil
}

// insertError maps unique index violations on messages to their conflicts.
func insertError(err error) error {
	switch uniqueViolation(err) {
	case indexRoomSeq:
		return errs.ErrDuplicateSeq.Wrap(err)
	case indexRoomSubmission:
		return errs.ErrDuplicateSubmit.Wrap(err)
	case "other":
		return errs.Conflict(errs.CodeInvalidPayload, "message id already exists").Wrap(err)
	}
	return classify(err, "insert message")
}

func (p *GormStore) InsertMessage(ctx context.Context, msg *types.Message, seq int64) (*types.Message, error) {
	msg.Seq = seq
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now()
	}
	if err := p.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, insertError(err)
	}
	return msg, nil
}

func (p *GormStore) GetMessage(ctx context.Context, roomId, messageId string) (*types.Message, error) {
	msg := &types.Message{}
	err := p.db.WithContext(ctx).Where("room_id = ? AND id = ?", roomId, messageId).First(msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrMessageNotFound
	}
	if err != nil {
		return nil, classify(err, "get message")
	}
	return msg, nil
}

func (p *GormStore) ListMessages(ctx context.Context, roomId, cursor string, limit int) ([]*types.Message, string, error) {
	before, err := types.DecodeSeqCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	n := pageSize(limit)
	q := p.db.WithContext(ctx).Where("room_id = ?", roomId)
	if before > 0 {
		q = q.Where("seq < ?", before)
	}
	msgs := make([]*types.Message, 0)
	if err := q.Order("seq DESC").Limit(n + 1).Find(&msgs).Error; err != nil {
		return nil, "", classify(err, "list messages")
	}
	next := ""
	if len(msgs) > n {
		msgs = msgs[:n]
		next = types.EncodeSeqCursor(msgs[n-1].Seq)
	}
	return msgs, next, nil
}

func (p *GormStore) SoftDeleteMessage(ctx context.Context, roomId, messageId string) error {
	res := p.db.WithContext(ctx).Model(&types.Message{}).
		Where("room_id = ? AND id = ? AND deleted_at IS NULL", roomId, messageId).
		Update("deleted_at", p.now())
	if res.Error != nil {
		return classify(res.Error, "delete message")
	}
	if res.RowsAffected == 0 {
		// already deleted is fine, absent is not
		_, err := p.GetMessage(ctx, roomId, messageId)
		return err
	}
	return nil
}

func (p *GormStore) MessageStats(ctx context.Context, roomId string) (*MessageStats, error) {
	stats := &MessageStats{}
	err := p.db.WithContext(ctx).Raw(`SELECT COUNT(*) AS count, COUNT(DISTINCT seq) AS distinct_seqs,
COALESCE(MIN(seq), 0) AS min_seq, COALESCE(MAX(seq), 0) AS max_seq FROM messages WHERE room_id = ?`, roomId).Scan(stats).Error
	if err != nil {
		return nil, classify(err, "message stats")
	}
	return stats, nil
}

// AttachmentReferenced matches the key inside the attachments column: by
// jsonb containment on postgres, by the serialized text on sqlite, where LIKE
// wildcards in a key can only widen the match.
func (p *GormStore) AttachmentReferenced(ctx context.Context, key string) (bool, error) {
	roomId, _, _ := strings.Cut(key, "/")
	q := p.db.WithContext(ctx).Model(&types.Message{}).Where("room_id = ?", roomId)
	if p.db.Dialector.Name() == "postgres" {
		doc, err := json.Marshal([]map[string]string{{"key": key}})
		if err != nil {
			return false, errs.Infrastructure(err, "encode attachment key")
		}
		q = q.Where("attachments @> ?::jsonb", string(doc))
	} else {
		encoded, err := json.Marshal(key)
		if err != nil {
			return false, errs.Infrastructure(err, "encode attachment key")
		}
		q = q.Where("attachments LIKE ?", `%"key":`+string(encoded)+`%`)
	}
	var n int64
	err := q.Count(&n).Error
	if err != nil {
		return false, classify(err, "attachment reference")
	}
	return n > 0, nil
}
