package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

func TestUpdateTags(t *testing.T) {
	tags := map[string]string{"TEST": "0.1", "TestSlice": "1,2,3"}
	updates := []*types.TagUpdate{{
		Name:       "TEST",
		Type:       types.TagValueFloat,
		Expression: `AsFloat(Tags["TEST"])+17`,
	}, {
		Name:       "TestSlice",
		Type:       types.TagValueIntSlice,
		Index:      1,
		Expression: `AsIntSlice(Tags["TestSlice"])[1]+17`,
	}}
	oks := UpdateTags(tags, updates)
	assert.Equal(t, []bool{true, true}, oks)
	assert.Equal(t, "17.1", tags["TEST"])
	assert.Equal(t, "1,19,3", tags["TestSlice"])

	updates = []*types.TagUpdate{{
		Name:       "TEST",
		Type:       types.TagValueInt,
		Expression: `Tags["TEST"] + 1`,
	}, {
		Name:       "TestSlice",
		Type:       types.TagValueIntSlice,
		Index:      7,
		Expression: `1`,
	}}
	oks = UpdateTags(tags, updates)
	assert.Equal(t, []bool{false, false}, oks)
	assert.Equal(t, "17.1", tags["TEST"])
	assert.Equal(t, "1,19,3", tags["TestSlice"])
}

func listItem() *types.RoomListItem {
	now := time.Now()
	return &types.RoomListItem{
		Room: &types.Room{
			Id:          "r1",
			Name:        "Morning runs",
			MemberCount: 3,
			SeqCounter:  10,
			ActivityMs:  now.UnixMilli(),
			Tags:        types.JSONStringMap{"sport": "running", "level": "2"},
			CreatedAt:   now,
		},
		Member: &types.Member{Role: types.RoleMember, Pinned: true, LastReadSeq: 4, JoinedAt: now},
		Unread: 6,
	}
}

func TestRoomFilter(t *testing.T) {
	item := listItem()
	cases := map[string]bool{
		`Unread > 5`:                            true,
		`Tags["sport"] == "running" && Pinned`:  true,
		`AsInt(Tags["level"]) >= 3`:             false,
		`Role == "owner"`:                       false,
		`MemberCount == 3 and SeqCounter == 10`: true,
	}
	for source, want := range cases {
		f, err := CompileRoomFilter(source)
		require.NoError(t, err, source)
		assert.Equal(t, want, f.Match(item), source)
	}

	var none *RoomFilter
	assert.True(t, none.Match(item))
	f, err := CompileRoomFilter("")
	assert.NoError(t, err)
	assert.Nil(t, f)

	_, err = CompileRoomFilter(`Unread +`)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))
	_, err = CompileRoomFilter(`Unread + 1`)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))
}
