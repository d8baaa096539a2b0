package events

import (
	"context"
	"errors"
	"testing"

	"github.com/skillshare/realtime/internal/core/coretest"
	"github.com/skillshare/realtime/internal/domain"
)

func TestAsyncDeliversInOrder(t *testing.T) {
	rec := &coretest.Events{}
	a := NewAsync(rec, 8)
	for _, k := range []domain.CallEventKind{domain.EventCallStarted, domain.EventParticipantJoined, domain.EventCallEnded} {
		if err := a.Publish(context.Background(), domain.CallEvent{Kind: k}); err != nil {
			t.Fatal(err)
		}
	}
	a.Close()

	got := rec.Kinds()
	if len(got) != 3 || got[0] != domain.EventCallStarted || got[2] != domain.EventCallEnded {
		t.Fatalf("kinds = %v", got)
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Publish(context.Context, domain.CallEvent) error {
	<-b.release
	return nil
}

func TestAsyncDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, 1)

	var dropped int
	for i := 0; i < 5; i++ {
		if err := a.Publish(context.Background(), domain.CallEvent{}); errors.Is(err, domain.ErrBackpressure) {
			dropped++
		}
	}
	close(sink.release)
	a.Close()

	if dropped == 0 {
		t.Fatal("no event dropped with a full buffer")
	}
}
