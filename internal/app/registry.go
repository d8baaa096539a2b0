package app

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/metrics"
)

// memberSet is the ordered member list of one session. A set marked dead has
// already been unlinked from the index and must not be used again.
type memberSet struct {
	mu    sync.Mutex
	conns []*core.Connection
	dead  bool
}

// Registry maps a session key to its live connections. Each session has its
// own lock; the key index is a sync.Map so unrelated sessions never contend.
// A key present in the index always maps to a non-empty set.
type Registry[K comparable] struct {
	name     string
	sessions sync.Map // K -> *memberSet
}

func NewRegistry[K comparable](name string) *Registry[K] {
	return &Registry[K]{name: name}
}

func (r *Registry[K]) Name() string { return r.name }

// Register appends c to the session, creating the session when absent.
// It returns the member count right after the append.
func (r *Registry[K]) Register(key K, c *core.Connection) int {
	for {
		v, loaded := r.sessions.Load(key)
		if !loaded {
			v, loaded = r.sessions.LoadOrStore(key, &memberSet{})
		}
		s := v.(*memberSet)

		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		if slices.Contains(s.conns, c) {
			n := len(s.conns)
			s.mu.Unlock()
			return n
		}
		s.conns = append(s.conns, c)
		n := len(s.conns)
		s.mu.Unlock()

		if !loaded {
			metrics.LiveSessions.WithLabelValues(r.name).Inc()
		}
		metrics.LiveConnections.WithLabelValues(r.name).Inc()
		log.Debug().Str("module", "app.registry").Str("registry", r.name).Interface("key", key).Uint64("conn", c.ID).Int("members", n).Msg("registered")
		return n
	}
}

// Remove drops c from the session. It reports whether membership changed.
func (r *Registry[K]) Remove(key K, c *core.Connection) bool {
	removed, _ := r.Detach(key, c)
	return removed
}

// Detach is Remove that also reports how many members are left, computed
// under the same lock that performed the removal.
func (r *Registry[K]) Detach(key K, c *core.Connection) (removed bool, remaining int) {
	v, ok := r.sessions.Load(key)
	if !ok {
		return false, 0
	}
	s := v.(*memberSet)

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return false, 0
	}
	idx := slices.Index(s.conns, c)
	if idx < 0 {
		n := len(s.conns)
		s.mu.Unlock()
		return false, n
	}
	s.conns = slices.Delete(s.conns, idx, idx+1)
	remaining = len(s.conns)
	if remaining == 0 {
		s.dead = true
		r.sessions.CompareAndDelete(key, s)
	}
	s.mu.Unlock()

	metrics.LiveConnections.WithLabelValues(r.name).Dec()
	if remaining == 0 {
		metrics.LiveSessions.WithLabelValues(r.name).Dec()
	}
	log.Debug().Str("module", "app.registry").Str("registry", r.name).Interface("key", key).Uint64("conn", c.ID).Int("members", remaining).Msg("removed")
	return true, remaining
}

// Evict removes the whole session at once and returns its former members.
func (r *Registry[K]) Evict(key K) []*core.Connection {
	v, ok := r.sessions.Load(key)
	if !ok {
		return nil
	}
	s := v.(*memberSet)

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil
	}
	out := s.conns
	s.conns = nil
	s.dead = true
	r.sessions.CompareAndDelete(key, s)
	s.mu.Unlock()

	metrics.LiveConnections.WithLabelValues(r.name).Sub(float64(len(out)))
	metrics.LiveSessions.WithLabelValues(r.name).Dec()
	log.Info().Str("module", "app.registry").Str("registry", r.name).Interface("key", key).Int("evicted", len(out)).Msg("session evicted")
	return out
}

// MembersExcept returns a copy of the members other than excluded.
func (r *Registry[K]) MembersExcept(key K, excluded *core.Connection) []*core.Connection {
	return r.snapshot(key, excluded)
}

// AllMembers returns a copy of every member.
func (r *Registry[K]) AllMembers(key K) []*core.Connection {
	return r.snapshot(key, nil)
}

func (r *Registry[K]) snapshot(key K, excluded *core.Connection) []*core.Connection {
	v, ok := r.sessions.Load(key)
	if !ok {
		return nil
	}
	s := v.(*memberSet)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		if c != excluded {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry[K]) Count(key K) int {
	v, ok := r.sessions.Load(key)
	if !ok {
		return 0
	}
	s := v.(*memberSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Keys lists the sessions present at the time of the call.
func (r *Registry[K]) Keys() []K {
	var out []K
	r.sessions.Range(func(k, _ any) bool {
		out = append(out, k.(K))
		return true
	})
	return out
}

func (r *Registry[K]) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
