// Package callstate implements the call lifecycle state machine: a
// stateless policy object that, given a Call aggregate and a requested
// event, produces the next Call/Participant state or a typed rejection. It
// holds no storage or network dependency of its own; CallCoordinator is
// responsible for loading an Aggregate from the CallStore, applying an
// event, and persisting the result.
package callstate

import "time"

// Kind is the media kind of a call.
type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

// Status is a Call's lifecycle status. Valid transitions:
// ringing -> (active | missed) -> ended. Terminal states are sinks.
type Status string

const (
	StatusRinging Status = "ringing"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusMissed  Status = "missed"
)

// Terminal reports whether s is a sink state.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusMissed
}

// RecordingStatus is the orthogonal lifecycle of a call's recording.
type RecordingStatus string

const (
	RecordingNone       RecordingStatus = "none"
	RecordingRecording  RecordingStatus = "recording"
	RecordingProcessing RecordingStatus = "processing"
	RecordingReady      RecordingStatus = "ready"
	RecordingFailed     RecordingStatus = "failed"
)

// Recording tracks the ghost-recorder artifact state for a Call.
type Recording struct {
	Status     RecordingStatus
	FileID     string
	URL        string
	DurationMs int64
	SizeBytes  int64
	Hidden     bool
	HiddenByID string
	HiddenAt   *time.Time
}

// Call is the persisted call aggregate root.
type Call struct {
	CallID      string
	GroupID     string
	Kind        Kind
	InitiatorID string
	Status      Status
	StartedAt   time.Time
	ConnectedAt *time.Time
	EndedAt     *time.Time
	DurationMs  *int64
	Recording   Recording
}

// ParticipantStatus is a Participant's lifecycle status. Valid transitions:
// invited -> (accepted | rejected) -> (joined -> left), or invited/accepted
// directly -> left.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantRejected ParticipantStatus = "rejected"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
)

// Terminal reports whether a Participant status cannot change further.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantRejected || s == ParticipantLeft
}

// Participant is a persisted child row of Call, keyed by (CallID, MemberID).
type Participant struct {
	CallID      string
	MemberID    string
	Status      ParticipantStatus
	InvitedAt   time.Time
	RespondedAt *time.Time
	JoinedAt    *time.Time
	LeftAt      *time.Time
}

// Aggregate is a Call together with its full participant set, the unit the
// state machine operates on and the unit CallCoordinator persists
// atomically per call.
type Aggregate struct {
	Call         *Call
	Participants []*Participant
}

// ParticipantFor returns the participant row for memberID, or nil.
func (a *Aggregate) ParticipantFor(memberID string) *Participant {
	for _, p := range a.Participants {
		if p.MemberID == memberID {
			return p
		}
	}
	return nil
}

// SetCallID assigns the storage-issued call ID to the call and every
// participant row. Initiate leaves CallID empty since id generation belongs
// to the CallStore/Coordinator, not the state machine.
func (a *Aggregate) SetCallID(callID string) {
	a.Call.CallID = callID
	for _, p := range a.Participants {
		p.CallID = callID
	}
}
