// Package callstore defines the CallStore capability: the persistence
// boundary for Call and Participant rows. CallCoordinator depends only on
// the Store interface; this package ships two implementations, a
// PostgreSQL-backed one for production and an in-memory one for tests and
// single-instance development.
package callstore

import (
	"context"
	"errors"

	"github.com/familyspace/callcore/internal/callstate"
)

// ErrNotFound is returned when a call or participant row does not exist.
var ErrNotFound = errors.New("callstore: not found")

// ListFilter narrows a call history query.
type ListFilter struct {
	GroupID string
	Kind    callstate.Kind // zero value means any kind
	MemberID string        // when set, only calls this member participated in
	Limit   int
	Offset  int
}

// Store is the CallStore capability.
type Store interface {
	// CreateCall persists a new call aggregate, assigning CallID.
	CreateCall(ctx context.Context, agg *callstate.Aggregate) error

	// GetCall loads a call aggregate by id. Returns ErrNotFound if absent.
	GetCall(ctx context.Context, callID string) (*callstate.Aggregate, error)

	// SaveCall persists the full aggregate's current state (call row plus
	// every participant row). Coordinator calls this inside its per-call
	// critical section after applying a state machine transition.
	SaveCall(ctx context.Context, agg *callstate.Aggregate) error

	// ListCalls returns a page of calls for a group, descending by StartedAt.
	ListCalls(ctx context.Context, filter ListFilter) ([]*callstate.Aggregate, int, error)

	// ListActiveForMember returns calls where memberID is the initiator or a
	// non-terminal participant, with status in {ringing, active}.
	ListActiveForMember(ctx context.Context, groupID, memberID string) ([]*callstate.Aggregate, error)
}
