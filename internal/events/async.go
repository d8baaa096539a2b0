package events

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// Async decouples the lifecycle from a slow sink. Events are dropped, not
// queued without bound, when the buffer is full.
type Async struct {
	next core.EventSink
	ch   chan domain.CallEvent
	wg   conc.WaitGroup
}

func NewAsync(next core.EventSink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{next: next, ch: make(chan domain.CallEvent, buffer)}
	a.wg.Go(a.run)
	return a
}

func (a *Async) Publish(_ context.Context, ev domain.CallEvent) error {
	select {
	case a.ch <- ev:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

func (a *Async) run() {
	for ev := range a.ch {
		if err := a.next.Publish(context.Background(), ev); err != nil {
			log.Warn().Err(err).Str("module", "events").Str("kind", string(ev.Kind)).Str("call_id", string(ev.CallID)).Msg("publish failed")
		}
	}
}

// Close flushes pending events and stops the worker. Publish must not be
// called afterwards.
func (a *Async) Close() {
	close(a.ch)
	a.wg.Wait()
}
