package coretest

import (
	"context"
	"sync"
	"time"

	"github.com/skillshare/realtime/internal/domain"
)

// CallStore keeps calls and participant intervals in memory. Set Fail[op] to
// make an operation return that error.
type CallStore struct {
	mu        sync.Mutex
	calls     map[domain.CallID]*domain.CallRecord
	intervals map[domain.CallID][]*domain.ParticipantRecord
	creates   int
	Fail      map[string]error
}

func NewCallStore() *CallStore {
	return &CallStore{
		calls:     make(map[domain.CallID]*domain.CallRecord),
		intervals: make(map[domain.CallID][]*domain.ParticipantRecord),
		Fail:      make(map[string]error),
	}
}

func (s *CallStore) SetFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Fail, op)
		return
	}
	s.Fail[op] = err
}

func (s *CallStore) fail(op string) error { return s.Fail[op] }

func (s *CallStore) FindActiveCall(_ context.Context, group domain.GroupID) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindActiveCall"); err != nil {
		return nil, err
	}
	for _, c := range s.calls {
		if c.GroupID == group && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *CallStore) GetCall(_ context.Context, id domain.CallID) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *CallStore) CreateCall(_ context.Context, group domain.GroupID, starter domain.UserID) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateCall"); err != nil {
		return nil, err
	}
	s.creates++
	rec := &domain.CallRecord{
		CallID:           domain.NewCallID(),
		GroupID:          group,
		StartedBy:        starter,
		StartedAt:        time.Now(),
		IsActive:         true,
		ParticipantCount: 1,
	}
	s.calls[rec.CallID] = rec
	cp := *rec
	return &cp, nil
}

func (s *CallStore) IncrementParticipantCount(_ context.Context, id domain.CallID) error {
	return s.update("IncrementParticipantCount", id, func(c *domain.CallRecord) { c.ParticipantCount++ })
}

func (s *CallStore) DecrementParticipantCount(_ context.Context, id domain.CallID) error {
	return s.update("DecrementParticipantCount", id, func(c *domain.CallRecord) {
		if c.ParticipantCount > 0 {
			c.ParticipantCount--
		}
	})
}

func (s *CallStore) EndCall(_ context.Context, id domain.CallID, endedBy domain.UserID) error {
	return s.update("EndCall", id, func(c *domain.CallRecord) {
		if !c.IsActive {
			return
		}
		now := time.Now()
		c.IsActive = false
		c.EndedAt = &now
		c.EndedBy = &endedBy
		c.ParticipantCount = 0
		for _, iv := range s.intervals[id] {
			if iv.LeftAt == nil {
				iv.LeftAt = &now
			}
		}
	})
}

func (s *CallStore) OpenParticipantInterval(_ context.Context, id domain.CallID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("OpenParticipantInterval"); err != nil {
		return err
	}
	for _, iv := range s.intervals[id] {
		if iv.UserID == user && iv.LeftAt == nil {
			return nil
		}
	}
	s.intervals[id] = append(s.intervals[id], &domain.ParticipantRecord{CallID: id, UserID: user, JoinedAt: time.Now()})
	return nil
}

func (s *CallStore) CloseParticipantInterval(_ context.Context, id domain.CallID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CloseParticipantInterval"); err != nil {
		return err
	}
	now := time.Now()
	for _, iv := range s.intervals[id] {
		if iv.UserID == user && iv.LeftAt == nil {
			iv.LeftAt = &now
		}
	}
	return nil
}

func (s *CallStore) update(op string, id domain.CallID, fn func(*domain.CallRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	c, ok := s.calls[id]
	if !ok {
		return domain.ErrCallNotFound
	}
	fn(c)
	return nil
}

// Creates reports how many calls were created.
func (s *CallStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// OpenIntervals counts intervals of id without left_at.
func (s *CallStore) OpenIntervals(id domain.CallID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, iv := range s.intervals[id] {
		if iv.LeftAt == nil {
			n++
		}
	}
	return n
}

func (s *CallStore) Intervals(id domain.CallID) []domain.ParticipantRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ParticipantRecord, 0, len(s.intervals[id]))
	for _, iv := range s.intervals[id] {
		out = append(out, *iv)
	}
	return out
}

// Members is a static membership table.
type Members struct {
	mu  sync.RWMutex
	set map[domain.GroupID]map[domain.UserID]bool
	Err error
}

func NewMembers() *Members {
	return &Members{set: make(map[domain.GroupID]map[domain.UserID]bool)}
}

func (m *Members) Add(group domain.GroupID, users ...domain.UserID) *Members {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set[group] == nil {
		m.set[group] = make(map[domain.UserID]bool)
	}
	for _, u := range users {
		m.set[group][u] = true
	}
	return m
}

func (m *Members) IsMember(_ context.Context, group domain.GroupID, user domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.set[group][user], nil
}

// Events records published call events.
type Events struct {
	mu     sync.Mutex
	events []domain.CallEvent
}

func (e *Events) Publish(_ context.Context, ev domain.CallEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *Events) Kinds() []domain.CallEventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.CallEventKind, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}
