package callstore

import (
	"context"
	"testing"
	"time"

	"github.com/familyspace/callcore/internal/callstate"
)

func newAggregate(groupID, initiatorID string, startedAt time.Time) *callstate.Aggregate {
	return &callstate.Aggregate{
		Call: &callstate.Call{
			GroupID:     groupID,
			Kind:        callstate.KindVoice,
			InitiatorID: initiatorID,
			Status:      callstate.StatusRinging,
			StartedAt:   startedAt,
		},
		Participants: []*callstate.Participant{
			{MemberID: "member-b", Status: callstate.ParticipantInvited, InvitedAt: startedAt},
		},
	}
}

func TestCreateCallAssignsID(t *testing.T) {
	store := NewMemStore()
	agg := newAggregate("group-1", "member-a", time.Now())

	if err := store.CreateCall(context.Background(), agg); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if agg.Call.CallID == "" {
		t.Fatal("expected CallID to be assigned")
	}
	if agg.Participants[0].CallID != agg.Call.CallID {
		t.Fatal("expected participant CallID to be propagated")
	}
}

func TestGetCallNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.GetCall(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCallReturnsIndependentCopy(t *testing.T) {
	store := NewMemStore()
	agg := newAggregate("group-1", "member-a", time.Now())
	if err := store.CreateCall(context.Background(), agg); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	got, err := store.GetCall(context.Background(), agg.Call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	got.Call.Status = callstate.StatusActive
	got.Participants[0].Status = callstate.ParticipantJoined

	again, err := store.GetCall(context.Background(), agg.Call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if again.Call.Status != callstate.StatusRinging {
		t.Fatal("mutating a returned aggregate must not affect the store")
	}
	if again.Participants[0].Status != callstate.ParticipantInvited {
		t.Fatal("mutating a returned participant must not affect the store")
	}
}

func TestSaveCallRequiresExistingRow(t *testing.T) {
	store := NewMemStore()
	agg := newAggregate("group-1", "member-a", time.Now())
	agg.SetCallID("ghost")

	if err := store.SaveCall(context.Background(), agg); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveCallPersistsChanges(t *testing.T) {
	store := NewMemStore()
	agg := newAggregate("group-1", "member-a", time.Now())
	if err := store.CreateCall(context.Background(), agg); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	agg.Call.Status = callstate.StatusActive
	if err := store.SaveCall(context.Background(), agg); err != nil {
		t.Fatalf("SaveCall: %v", err)
	}

	got, err := store.GetCall(context.Background(), agg.Call.CallID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Call.Status != callstate.StatusActive {
		t.Fatalf("expected status active, got %s", got.Call.Status)
	}
}

func TestListCallsFiltersByGroupAndKindAndPaginates(t *testing.T) {
	store := NewMemStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		agg := newAggregate("group-1", "member-a", base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateCall(context.Background(), agg); err != nil {
			t.Fatalf("CreateCall: %v", err)
		}
	}
	other := newAggregate("group-2", "member-a", base)
	if err := store.CreateCall(context.Background(), other); err != nil {
		t.Fatalf("CreateCall other group: %v", err)
	}

	page, total, err := store.ListCalls(context.Background(), ListFilter{GroupID: "group-1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	// Descending by StartedAt: index 0 in the page is the 4th-most-recent call.
	if !page[0].Call.StartedAt.Before(base.Add(4 * time.Minute)) {
		t.Fatal("expected results ordered by StartedAt descending")
	}
}

func TestListActiveForMemberExcludesTerminalAndUnrelated(t *testing.T) {
	store := NewMemStore()
	now := time.Now()

	active := newAggregate("group-1", "member-a", now)
	if err := store.CreateCall(context.Background(), active); err != nil {
		t.Fatalf("CreateCall active: %v", err)
	}

	ended := newAggregate("group-1", "member-a", now)
	ended.Call.Status = callstate.StatusEnded
	if err := store.CreateCall(context.Background(), ended); err != nil {
		t.Fatalf("CreateCall ended: %v", err)
	}

	unrelated := newAggregate("group-1", "member-c", now)
	if err := store.CreateCall(context.Background(), unrelated); err != nil {
		t.Fatalf("CreateCall unrelated: %v", err)
	}

	out, err := store.ListActiveForMember(context.Background(), "group-1", "member-a")
	if err != nil {
		t.Fatalf("ListActiveForMember: %v", err)
	}
	if len(out) != 1 || out[0].Call.CallID != active.Call.CallID {
		t.Fatalf("expected exactly the active call, got %d results", len(out))
	}

	outAsParticipant, err := store.ListActiveForMember(context.Background(), "group-1", "member-b")
	if err != nil {
		t.Fatalf("ListActiveForMember as participant: %v", err)
	}
	if len(outAsParticipant) != 1 || outAsParticipant[0].Call.CallID != active.Call.CallID {
		t.Fatal("expected invited participant to see the active call")
	}
}
