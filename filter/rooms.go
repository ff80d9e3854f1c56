package filter

import (
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

// RoomFilter is a compiled boolean expression over Env.
type RoomFilter struct {
	source  string
	program *vm.Program
}

// CompileRoomFilter returns nil for an empty expression.
func CompileRoomFilter(source string) (*RoomFilter, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, errs.Validation(errs.CodeInvalidFilter, "invalid room filter: "+err.Error())
	}
	return &RoomFilter{source: source, program: program}, nil
}

func (f *RoomFilter) String() string {
	return f.source
}

// NewEnv builds the filter environment of a room as seen by one member.
func NewEnv(item *types.RoomListItem, now time.Time) Env {
	env := Env{
		Unread:        item.Unread,
		Now:           now.Unix(),
		AsInt:         AsInt,
		AsFloat:       AsFloat,
		AsStringSlice: AsStringSlice,
		AsIntSlice:    AsIntSlice,
		AsFloatSlice:  AsFloatSlice,
	}
	if r := item.Room; r != nil {
		env.Room = Room{
			Id:            r.Id,
			Name:          r.Name,
			Description:   r.Description,
			OwnerId:       r.OwnerId,
			Capacity:      int64(r.Capacity),
			MemberCount:   int64(r.MemberCount),
			SeqCounter:    r.SeqCounter,
			LastMessageAt: r.ActivityMs,
			Created:       r.CreatedAt.Unix(),
			Tags:          r.Tags,
		}
	}
	if m := item.Member; m != nil {
		env.Member = Member{
			Role:        string(m.Role),
			Nickname:    m.Nickname,
			Pinned:      m.Pinned,
			Muted:       m.Muted,
			LastReadSeq: m.LastReadSeq,
			Joined:      m.JoinedAt.Unix(),
		}
	}
	return env
}

// Match evaluates the filter; a nil filter matches everything. Runtime errors count as no match.
func (f *RoomFilter) Match(item *types.RoomListItem) bool {
	if f == nil {
		return true
	}
	res, err := expr.Run(f.program, NewEnv(item, time.Now()))
	if err != nil {
		return false
	}
	ok, _ := res.(bool)
	return ok
}
