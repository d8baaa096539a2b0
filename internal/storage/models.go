// Package storage persists calls, participant intervals, memberships and chat
// messages through gorm.
package storage

import (
	"time"

	"github.com/skillshare/realtime/internal/domain"
)

type Call struct {
	ID               uint64    `gorm:"primaryKey"`
	CallID           string    `gorm:"size:64;not null;uniqueIndex"`
	GroupID          int64     `gorm:"not null;index:idx_group_active,priority:1"`
	StartedBy        string    `gorm:"size:64;not null"`
	StartedAt        time.Time `gorm:"not null"`
	EndedAt          *time.Time
	EndedBy          *string `gorm:"size:64"`
	IsActive         bool    `gorm:"not null;index:idx_group_active,priority:2"`
	ParticipantCount int     `gorm:"not null;default:0"`
}

func (Call) TableName() string { return "group_calls" }

func (c *Call) toDomain() *domain.CallRecord {
	rec := &domain.CallRecord{
		CallID:           domain.CallID(c.CallID),
		GroupID:          domain.GroupID(c.GroupID),
		StartedBy:        domain.UserID(c.StartedBy),
		StartedAt:        c.StartedAt,
		EndedAt:          c.EndedAt,
		IsActive:         c.IsActive,
		ParticipantCount: c.ParticipantCount,
	}
	if c.EndedBy != nil {
		u := domain.UserID(*c.EndedBy)
		rec.EndedBy = &u
	}
	return rec
}

type CallParticipant struct {
	ID       uint64    `gorm:"primaryKey"`
	CallID   string    `gorm:"size:64;not null;index:idx_call_user,priority:1"`
	UserID   string    `gorm:"size:64;not null;index:idx_call_user,priority:2;index"`
	JoinedAt time.Time `gorm:"not null"`
	LeftAt   *time.Time
}

func (CallParticipant) TableName() string { return "call_participants" }

type GroupMember struct {
	ID       uint64    `gorm:"primaryKey"`
	GroupID  int64     `gorm:"not null;uniqueIndex:idx_group_user,priority:1"`
	UserID   string    `gorm:"size:64;not null;uniqueIndex:idx_group_user,priority:2"`
	Role     string    `gorm:"size:20;not null;default:member"`
	JoinedAt time.Time `gorm:"not null"`
}

func (GroupMember) TableName() string { return "group_members" }

type GroupMessage struct {
	ID               int64   `gorm:"primaryKey"`
	GroupID          int64   `gorm:"not null;index"`
	UserID           string  `gorm:"size:64;not null"`
	MessageType      string  `gorm:"size:20;not null;default:text"`
	Content          string  `gorm:"type:text"`
	FileURL          *string `gorm:"size:2000"`
	FileName         *string `gorm:"size:255"`
	FileSize         *int64
	Duration         *int
	ReplyToMessageID *int64
	IsEdited         bool `gorm:"not null;default:false"`
	IsDeleted        bool `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (GroupMessage) TableName() string { return "group_messages" }

func (m *GroupMessage) toDomain() domain.ChatMessage {
	return domain.ChatMessage{
		ID:               m.ID,
		GroupID:          domain.GroupID(m.GroupID),
		UserID:           domain.UserID(m.UserID),
		Type:             domain.MessageType(m.MessageType),
		Content:          m.Content,
		FileURL:          m.FileURL,
		FileName:         m.FileName,
		FileSize:         m.FileSize,
		Duration:         m.Duration,
		ReplyToMessageID: m.ReplyToMessageID,
		IsEdited:         m.IsEdited,
		CreatedAt:        m.CreatedAt,
	}
}

// Models lists every table this service migrates.
func Models() []any {
	return []any{&Call{}, &CallParticipant{}, &GroupMember{}, &GroupMessage{}}
}
