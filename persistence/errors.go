package persistence

import (
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/tcriess/stride-chat/errs"
	"gorm.io/gorm"
)

const (
	indexRoomSeq        = "idx_messages_room_seq"
	indexRoomSubmission = "idx_messages_room_submission"
	pqUniqueViolation   = "23505"
)

// uniqueViolation reports which message unique index err violates: indexRoomSeq,
// indexRoomSubmission, "other" for any other unique index, or "" when err is not a unique violation.
func uniqueViolation(err error) string {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		// "UNIQUE constraint failed: messages.room_id, messages.seq"
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "messages.submission_id"):
			return indexRoomSubmission
		case strings.Contains(msg, "messages.seq"):
			return indexRoomSeq
		}
		return "other"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		switch pqErr.Constraint {
		case indexRoomSeq, indexRoomSubmission:
			return pqErr.Constraint
		}
		return "other"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "other"
	}
	return ""
}

// classify maps driver errors to the error taxonomy. Already classified errors pass through.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	return errs.Infrastructure(err, msg)
}
