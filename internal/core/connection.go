package core

import (
	"sync/atomic"
	"time"

	"github.com/skillshare/realtime/internal/domain"
)

var connSeq atomic.Uint64

// Connection is an accepted channel plus its identity. Two connections of the
// same user are distinct members; identity is the pointer.
type Connection struct {
	ID          uint64
	UserID      domain.UserID
	GroupID     domain.GroupID
	ConnectedAt time.Time
	Signal      SignalConnection

	call atomic.Value // domain.CallID, set once the lifecycle registers the connection
}

func NewConnection(user domain.UserID, group domain.GroupID, sig SignalConnection) *Connection {
	return &Connection{
		ID:          connSeq.Add(1),
		UserID:      user,
		GroupID:     group,
		ConnectedAt: time.Now(),
		Signal:      sig,
	}
}

// CallID reports the call this connection was registered under, if any.
func (c *Connection) CallID() (domain.CallID, bool) {
	v, ok := c.call.Load().(domain.CallID)
	return v, ok && v != ""
}

func (c *Connection) BindCall(id domain.CallID) { c.call.Store(id) }
