package app

import (
	"errors"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "kick"
	default:
		return "none"
	}
}

// Policy decides what happens to a receiver whose send failed.
type Policy interface {
	OnBackPressure(member *core.Connection, err error) BackpressureAction
}

// SimplePolicy kicks peers that cannot keep up. A closed peer only loses the
// frame; its own read loop performs the teardown.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ *core.Connection, err error) BackpressureAction {
	if errors.Is(err, domain.ErrBackpressure) {
		return KickMember
	}
	return DropFrame
}

// TolerantPolicy never disconnects anyone.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(*core.Connection, error) BackpressureAction { return DropFrame }
