package domain

import (
	"strconv"
	"time"
)

type GroupID int64

func (g GroupID) String() string { return strconv.FormatInt(int64(g), 10) }

// ParseGroupID accepts the decimal form used in URLs.
func ParseGroupID(raw string) (GroupID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrBadGroupID
	}
	return GroupID(n), nil
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Member is a read-only view of a group membership row.
type Member struct {
	GroupID  GroupID
	UserID   UserID
	Role     Role
	JoinedAt time.Time
}
