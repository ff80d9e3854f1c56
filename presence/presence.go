// Package presence tracks which users currently view which rooms. A user may
// have several sessions in a room; the user counts as viewing while any of
// them is open.
package presence

import (
	"context"
	"sync"
)

type Tracker interface {
	// Enter reports whether this is the user's first session in the room.
	Enter(ctx context.Context, roomId, userId string) (bool, error)
	// Leave reports whether this was the user's last session in the room.
	Leave(ctx context.Context, roomId, userId string) (bool, error)
	Viewing(ctx context.Context, roomId, userId string) (bool, error)
}

// Local tracks sessions of this process only.
type Local struct {
	sync.Mutex
	sessions map[string]map[string]int // room -> user -> open sessions
}

func NewLocal() *Local {
	return &Local{sessions: map[string]map[string]int{}}
}

func (l *Local) Enter(_ context.Context, roomId, userId string) (bool, error) {
	l.Lock()
	defer l.Unlock()
	users, ok := l.sessions[roomId]
	if !ok {
		users = map[string]int{}
		l.sessions[roomId] = users
	}
	users[userId]++
	return users[userId] == 1, nil
}

func (l *Local) Leave(_ context.Context, roomId, userId string) (bool, error) {
	l.Lock()
	defer l.Unlock()
	users := l.sessions[roomId]
	if users[userId] == 0 {
		return false, nil
	}
	users[userId]--
	if users[userId] > 0 {
		return false, nil
	}
	delete(users, userId)
	if len(users) == 0 {
		delete(l.sessions, roomId)
	}
	return true, nil
}

func (l *Local) Viewing(_ context.Context, roomId, userId string) (bool, error) {
	l.Lock()
	defer l.Unlock()
	return l.sessions[roomId][userId] > 0, nil
}
