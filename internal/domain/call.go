package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

// NewCallID mints a fresh call identifier.
func NewCallID() CallID { return CallID(uuid.NewString()) }

// CallRecord mirrors the persisted call row. The lifecycle updates it, stats readers only look.
type CallRecord struct {
	CallID           CallID     `json:"callId"`
	GroupID          GroupID    `json:"groupId"`
	StartedBy        UserID     `json:"startedBy"`
	StartedAt        time.Time  `json:"startedAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	EndedBy          *UserID    `json:"endedBy,omitempty"`
	IsActive         bool       `json:"isActive"`
	ParticipantCount int        `json:"participantCount"`
}

// ParticipantRecord is one (call, user) join interval.
type ParticipantRecord struct {
	CallID   CallID     `json:"callId"`
	UserID   UserID     `json:"userId"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

type CallStats struct {
	GroupID           GroupID       `json:"groupId"`
	TotalCalls        int64         `json:"totalCalls"`
	TotalParticipants int64         `json:"totalParticipants"`
	AverageDuration   time.Duration `json:"averageDuration"`
	TotalDuration     time.Duration `json:"totalDuration"`
}

type UserCallStats struct {
	UserID        UserID        `json:"userId"`
	TotalCalls    int64         `json:"totalCalls"`
	TotalCallTime time.Duration `json:"totalCallTime"`
}

type CallEventKind string

const (
	EventCallStarted       CallEventKind = "call.started"
	EventParticipantJoined CallEventKind = "participant.joined"
	EventParticipantLeft   CallEventKind = "participant.left"
	EventCallEnded         CallEventKind = "call.ended"
)

// CallEvent is emitted on every lifecycle transition.
type CallEvent struct {
	Kind         CallEventKind `json:"kind"`
	CallID       CallID        `json:"callId"`
	GroupID      GroupID       `json:"groupId"`
	UserID       UserID        `json:"userId"`
	Participants int           `json:"participants"`
	At           time.Time     `json:"at"`
}
