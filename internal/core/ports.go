package core

import (
	"context"

	"github.com/skillshare/realtime/internal/domain"
)

// CallStore is the persistence port of the call lifecycle.
// FindActiveCall returns nil, nil when the group has no active call.
type CallStore interface {
	FindActiveCall(ctx context.Context, group domain.GroupID) (*domain.CallRecord, error)
	GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error)
	CreateCall(ctx context.Context, group domain.GroupID, starter domain.UserID) (*domain.CallRecord, error)
	IncrementParticipantCount(ctx context.Context, id domain.CallID) error
	DecrementParticipantCount(ctx context.Context, id domain.CallID) error
	EndCall(ctx context.Context, id domain.CallID, endedBy domain.UserID) error
	OpenParticipantInterval(ctx context.Context, id domain.CallID, user domain.UserID) error
	CloseParticipantInterval(ctx context.Context, id domain.CallID, user domain.UserID) error
}

// MembershipChecker is the only authorization gate before a join.
type MembershipChecker interface {
	IsMember(ctx context.Context, group domain.GroupID, user domain.UserID) (bool, error)
}

// EventSink receives call lifecycle events. Delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, ev domain.CallEvent) error
}

type NopEventSink struct{}

func (NopEventSink) Publish(context.Context, domain.CallEvent) error { return nil }
