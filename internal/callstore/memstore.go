package callstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/familyspace/callcore/internal/callstate"
)

// MemStore is an in-process Store implementation backing unit tests and a
// single-instance development mode with no Postgres dependency.
type MemStore struct {
	mu    sync.Mutex
	calls map[string]*callstate.Aggregate
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{calls: make(map[string]*callstate.Aggregate)}
}

// CreateCall implements Store.
func (s *MemStore) CreateCall(ctx context.Context, agg *callstate.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg.SetCallID(uuid.NewString())
	s.calls[agg.Call.CallID] = cloneAggregate(agg)
	return nil
}

// GetCall implements Store.
func (s *MemStore) GetCall(ctx context.Context, callID string) (*callstate.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAggregate(agg), nil
}

// SaveCall implements Store.
func (s *MemStore) SaveCall(ctx context.Context, agg *callstate.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[agg.Call.CallID]; !ok {
		return ErrNotFound
	}
	s.calls[agg.Call.CallID] = cloneAggregate(agg)
	return nil
}

// ListCalls implements Store.
func (s *MemStore) ListCalls(ctx context.Context, filter ListFilter) ([]*callstate.Aggregate, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*callstate.Aggregate
	for _, agg := range s.calls {
		if agg.Call.GroupID != filter.GroupID {
			continue
		}
		if filter.Kind != "" && agg.Call.Kind != filter.Kind {
			continue
		}
		if filter.MemberID != "" && agg.Call.InitiatorID != filter.MemberID && agg.ParticipantFor(filter.MemberID) == nil {
			continue
		}
		matched = append(matched, agg)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Call.StartedAt.After(matched[j].Call.StartedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}

	page := make([]*callstate.Aggregate, 0, end-start)
	for _, agg := range matched[start:end] {
		page = append(page, cloneAggregate(agg))
	}
	return page, total, nil
}

// ListActiveForMember implements Store.
func (s *MemStore) ListActiveForMember(ctx context.Context, groupID, memberID string) ([]*callstate.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*callstate.Aggregate
	for _, agg := range s.calls {
		if agg.Call.GroupID != groupID {
			continue
		}
		if agg.Call.Status != callstate.StatusRinging && agg.Call.Status != callstate.StatusActive {
			continue
		}
		isInitiator := agg.Call.InitiatorID == memberID
		p := agg.ParticipantFor(memberID)
		if !isInitiator && (p == nil || p.Status.Terminal()) {
			continue
		}
		out = append(out, cloneAggregate(agg))
	}
	return out, nil
}

// cloneAggregate deep-copies an aggregate so callers cannot mutate MemStore's
// internal state through a returned pointer.
func cloneAggregate(agg *callstate.Aggregate) *callstate.Aggregate {
	callCopy := *agg.Call
	participants := make([]*callstate.Participant, len(agg.Participants))
	for i, p := range agg.Participants {
		pCopy := *p
		participants[i] = &pCopy
	}
	return &callstate.Aggregate{Call: &callCopy, Participants: participants}
}
