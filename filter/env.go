package filter

/*
Here the Env used in the room list filters is defined.
Once this struct is fixed, it should not be changed, otherwise stored filters of clients may not compile any more
(f.e. if properties are renamed etc.)
*/

type Room struct {
	Id            string
	Name          string
	Description   string
	OwnerId       string
	Capacity      int64
	MemberCount   int64
	SeqCounter    int64
	LastMessageAt int64 // unix millis, 0 without messages
	Created       int64 // unix seconds
	Tags          map[string]string
}

type Member struct {
	Role        string
	Nickname    string
	Pinned      bool
	Muted       bool
	LastReadSeq int64
	Joined      int64 // unix seconds
}

type Env struct {
	Room
	Member
	Unread int64
	Now    int64 // unix seconds

	AsInt         func(string) int64
	AsFloat       func(string) float64
	AsStringSlice func(string) []string
	AsIntSlice    func(string) []int64
	AsFloatSlice  func(string) []float64
}
