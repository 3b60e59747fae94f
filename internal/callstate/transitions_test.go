package callstate

import (
	"errors"
	"testing"
	"time"
)

func newAggregate(t *testing.T, invitees []string) *Aggregate {
	t.Helper()
	agg, err := Initiate("group-1", "initiator", KindVoice, invitees, false, nil, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	agg.SetCallID("call-1")
	return agg
}

func TestInitiateRejectsEmptyInvitees(t *testing.T) {
	_, err := Initiate("g1", "a", KindVoice, nil, false, nil, time.Now())
	if !errors.Is(err, ErrInvalidInvitees) {
		t.Fatalf("err = %v, want ErrInvalidInvitees", err)
	}
}

func TestInitiateRejectsSelfInvite(t *testing.T) {
	_, err := Initiate("g1", "a", KindVoice, []string{"a"}, false, nil, time.Now())
	if !errors.Is(err, ErrInvalidInvitees) {
		t.Fatalf("err = %v, want ErrInvalidInvitees", err)
	}
}

func TestInitiateRejectsReadOnlyGroup(t *testing.T) {
	_, err := Initiate("g1", "a", KindVoice, []string{"b"}, true, nil, time.Now())
	if !errors.Is(err, ErrReadOnlyGroup) {
		t.Fatalf("err = %v, want ErrReadOnlyGroup", err)
	}
}

func TestInitiatePropagatesValidatorError(t *testing.T) {
	validate := func(memberID string) error {
		if memberID == "supervisor-1" {
			return ErrSupervisorNotAllowed
		}
		return nil
	}
	_, err := Initiate("g1", "a", KindVoice, []string{"supervisor-1"}, false, validate, time.Now())
	if !errors.Is(err, ErrSupervisorNotAllowed) {
		t.Fatalf("err = %v, want ErrSupervisorNotAllowed", err)
	}
}

// Scenario 1: two-party voice call completes.
func TestTwoPartyCallCompletes(t *testing.T) {
	agg := newAggregate(t, []string{"b"})

	t0 := time.Unix(0, 0)
	if err := Respond(agg, "b", true, t0); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if agg.Call.Status != StatusActive {
		t.Fatalf("Call.Status = %v, want active", agg.Call.Status)
	}
	if agg.Call.ConnectedAt == nil || !agg.Call.ConnectedAt.Equal(t0) {
		t.Fatalf("ConnectedAt = %v, want %v", agg.Call.ConnectedAt, t0)
	}

	t30 := t0.Add(30 * time.Second)
	if err := End(agg, "initiator", t30); err != nil {
		t.Fatalf("End: %v", err)
	}
	if agg.Call.Status != StatusEnded {
		t.Fatalf("Call.Status = %v, want ended", agg.Call.Status)
	}
	if agg.Call.DurationMs == nil || *agg.Call.DurationMs != 30000 {
		t.Fatalf("DurationMs = %v, want 30000", agg.Call.DurationMs)
	}
	b := agg.ParticipantFor("b")
	if b.Status != ParticipantLeft {
		t.Fatalf("b.Status = %v, want left", b.Status)
	}
}

// Scenario 2: three-party reject cascade.
func TestThreePartyRejectCascade(t *testing.T) {
	agg := newAggregate(t, []string{"b", "c"})

	if err := Respond(agg, "b", false, time.Unix(1, 0)); err != nil {
		t.Fatalf("Respond(b): %v", err)
	}
	if agg.Call.Status != StatusRinging {
		t.Fatalf("Call.Status = %v, want ringing after first reject", agg.Call.Status)
	}

	if err := Respond(agg, "c", false, time.Unix(2, 0)); err != nil {
		t.Fatalf("Respond(c): %v", err)
	}
	if agg.Call.Status != StatusMissed {
		t.Fatalf("Call.Status = %v, want missed", agg.Call.Status)
	}
	if agg.Call.EndedAt == nil {
		t.Fatal("EndedAt should be set")
	}
	if agg.Call.DurationMs != nil {
		t.Fatalf("DurationMs = %v, want nil (never connected)", agg.Call.DurationMs)
	}
}

func TestRespondAlreadyResponded(t *testing.T) {
	agg := newAggregate(t, []string{"b"})
	if err := Respond(agg, "b", true, time.Unix(1, 0)); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	err := Respond(agg, "b", true, time.Unix(2, 0))
	if !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("err = %v, want ErrAlreadyResponded", err)
	}
}

func TestRespondOnTerminalCall(t *testing.T) {
	agg := newAggregate(t, []string{"b", "c"})
	if err := Respond(agg, "b", false, time.Unix(1, 0)); err != nil {
		t.Fatalf("Respond(b): %v", err)
	}
	if err := Respond(agg, "c", false, time.Unix(2, 0)); err != nil {
		t.Fatalf("Respond(c): %v", err)
	}
	err := Respond(agg, "c", true, time.Unix(3, 0))
	if !errors.Is(err, ErrCallTerminal) {
		t.Fatalf("err = %v, want ErrCallTerminal", err)
	}
}

func TestLeaveAlreadyLeftIsIdempotent(t *testing.T) {
	agg := newAggregate(t, []string{"b", "c"})
	if err := Respond(agg, "b", true, time.Unix(1, 0)); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := Leave(agg, "b", time.Unix(2, 0)); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := Leave(agg, "b", time.Unix(3, 0)); err != nil {
		t.Fatalf("second Leave should be idempotent, got %v", err)
	}
}

// Initiator leaves while ringing -> missed, all participants left.
func TestInitiatorLeaveWhileRinging(t *testing.T) {
	agg := newAggregate(t, []string{"b", "c"})
	if err := Leave(agg, "initiator", time.Unix(1, 0)); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if agg.Call.Status != StatusMissed {
		t.Fatalf("Call.Status = %v, want missed", agg.Call.Status)
	}
	for _, p := range agg.Participants {
		if p.Status != ParticipantLeft {
			t.Fatalf("participant %s status = %v, want left", p.MemberID, p.Status)
		}
	}
}

func TestLeaveLastParticipantEndsCall(t *testing.T) {
	agg := newAggregate(t, []string{"b"})
	if err := Respond(agg, "b", true, time.Unix(1, 0)); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := Leave(agg, "b", time.Unix(2, 0)); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if agg.Call.Status != StatusEnded {
		t.Fatalf("Call.Status = %v, want ended", agg.Call.Status)
	}
}

func TestSimultaneousAcceptSetsConnectedAtOnce(t *testing.T) {
	agg := newAggregate(t, []string{"b", "c"})
	if err := Respond(agg, "b", true, time.Unix(5, 0)); err != nil {
		t.Fatalf("Respond(b): %v", err)
	}
	first := agg.Call.ConnectedAt
	if err := Respond(agg, "c", true, time.Unix(6, 0)); err != nil {
		t.Fatalf("Respond(c): %v", err)
	}
	if !agg.Call.ConnectedAt.Equal(*first) {
		t.Fatalf("ConnectedAt changed on second acceptance: %v != %v", agg.Call.ConnectedAt, first)
	}
}

func TestRespondByNonParticipant(t *testing.T) {
	agg := newAggregate(t, []string{"b"})
	err := Respond(agg, "stranger", true, time.Unix(1, 0))
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}
