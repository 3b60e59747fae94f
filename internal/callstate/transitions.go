package callstate

import "time"

// InviteeValidator checks one candidate invitee against group membership and
// role policy. It returns ErrSupervisorNotAllowed or ErrInvalidInvitees (or
// nil) and is supplied by the caller so the state machine stays free of any
// membership or policy dependency.
type InviteeValidator func(memberID string) error

// Initiate creates a new ringing Call with one invited Participant per
// invitee. invitees must be non-empty, de-duplicated by the caller, and must
// not contain initiatorID.
func Initiate(groupID, initiatorID string, kind Kind, invitees []string, readOnlyGroup bool, validate InviteeValidator, now time.Time) (*Aggregate, error) {
	if readOnlyGroup {
		return nil, ErrReadOnlyGroup
	}
	if len(invitees) == 0 {
		return nil, ErrInvalidInvitees
	}

	seen := make(map[string]bool, len(invitees))
	for _, inv := range invitees {
		if inv == initiatorID {
			return nil, ErrInvalidInvitees
		}
		if seen[inv] {
			return nil, ErrInvalidInvitees
		}
		seen[inv] = true
		if validate != nil {
			if err := validate(inv); err != nil {
				return nil, err
			}
		}
	}

	call := &Call{
		GroupID:     groupID,
		Kind:        kind,
		InitiatorID: initiatorID,
		Status:      StatusRinging,
		StartedAt:   now,
		Recording:   Recording{Status: RecordingNone},
	}

	participants := make([]*Participant, 0, len(invitees))
	for _, inv := range invitees {
		participants = append(participants, &Participant{
			CallID:    call.CallID,
			MemberID:  inv,
			Status:    ParticipantInvited,
			InvitedAt: now,
		})
	}

	return &Aggregate{Call: call, Participants: participants}, nil
}

// Respond applies a participant's accept/reject decision. See §4.3 for the
// full precondition and effect table.
func Respond(agg *Aggregate, callerID string, accept bool, now time.Time) error {
	call := agg.Call
	if call.Status.Terminal() {
		return ErrCallTerminal
	}

	p := agg.ParticipantFor(callerID)
	if p == nil {
		return ErrNotParticipant
	}
	if p.Status != ParticipantInvited {
		return ErrAlreadyResponded
	}

	respondedAt := now
	p.RespondedAt = &respondedAt

	if accept {
		p.Status = ParticipantAccepted
		if call.Status == StatusRinging {
			call.Status = StatusActive
			connectedAt := now
			call.ConnectedAt = &connectedAt
		}
		return nil
	}

	p.Status = ParticipantRejected
	if allRejected(agg) {
		endedAt := now
		call.Status = StatusMissed
		call.EndedAt = &endedAt
		call.DurationMs = computeDuration(call, now)
	}
	return nil
}

// Leave removes callerID from the call. If callerID is the initiator, the
// whole call ends; otherwise only that participant leaves, and the call
// ends if no non-terminal participant remains.
func Leave(agg *Aggregate, callerID string, now time.Time) error {
	call := agg.Call
	if call.Status.Terminal() {
		return ErrCallTerminal
	}

	if callerID == call.InitiatorID {
		endCall(agg, now)
		return nil
	}

	p := agg.ParticipantFor(callerID)
	if p == nil {
		return ErrNotParticipant
	}
	if p.Status == ParticipantLeft {
		// Idempotent: already left.
		return nil
	}

	leftAt := now
	p.Status = ParticipantLeft
	p.LeftAt = &leftAt

	if !anyNonTerminal(agg) {
		endCall(agg, now)
	}
	return nil
}

// End terminates the call. It is the same operation as Leave when invoked
// by the initiator or a participant, per §4.3.
func End(agg *Aggregate, callerID string, now time.Time) error {
	call := agg.Call
	if call.Status.Terminal() {
		return ErrCallTerminal
	}
	if callerID != call.InitiatorID && agg.ParticipantFor(callerID) == nil {
		return ErrNotParticipant
	}
	endCall(agg, now)
	return nil
}

// endCall finalizes a call (to missed if still ringing, else ended),
// transitions every non-terminal participant to left, and computes duration.
func endCall(agg *Aggregate, now time.Time) {
	call := agg.Call
	if call.Status == StatusRinging {
		call.Status = StatusMissed
	} else {
		call.Status = StatusEnded
	}
	endedAt := now
	call.EndedAt = &endedAt
	call.DurationMs = computeDuration(call, now)

	for _, p := range agg.Participants {
		if !p.Status.Terminal() {
			leftAt := now
			p.Status = ParticipantLeft
			p.LeftAt = &leftAt
		}
	}
}

func allRejected(agg *Aggregate) bool {
	for _, p := range agg.Participants {
		if p.Status != ParticipantRejected {
			return false
		}
	}
	return true
}

func anyNonTerminal(agg *Aggregate) bool {
	for _, p := range agg.Participants {
		if !p.Status.Terminal() {
			return true
		}
	}
	return false
}

// computeDuration returns call.EndedAt - call.ConnectedAt in milliseconds,
// or nil if the call never connected.
func computeDuration(call *Call, endedAt time.Time) *int64 {
	if call.ConnectedAt == nil {
		return nil
	}
	ms := endedAt.Sub(*call.ConnectedAt).Milliseconds()
	return &ms
}
