// Package coretest provides in-memory doubles of the core ports for tests.
package coretest

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// Signal records every frame it accepts. Capacity < 0 means unbounded.
type Signal struct {
	mu       sync.Mutex
	frames   []core.Frame
	capacity int
	closed   bool
	closes   int
}

func NewSignal() *Signal { return &Signal{capacity: -1} }

// NewBoundedSignal rejects frames with domain.ErrBackpressure once n are queued.
func NewBoundedSignal(n int) *Signal { return &Signal{capacity: n} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrConnClosed
	}
	if s.capacity >= 0 && len(s.frames) >= s.capacity {
		return domain.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
}

func (s *Signal) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Signal) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Messages decodes every accepted frame.
func (s *Signal) Messages() []map[string]any {
	var out []map[string]any
	for _, f := range s.Frames() {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the decoded frames whose "type" equals typ.
func (s *Signal) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range s.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}
