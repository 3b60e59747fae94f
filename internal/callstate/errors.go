package callstate

import "errors"

// Sentinel errors returned by state machine transitions. CallCoordinator
// maps these to the stable client error codes in the API layer.
var (
	ErrInvalidInvitees      = errors.New("callstate: invalid invitees")
	ErrSupervisorNotAllowed = errors.New("callstate: supervisor role cannot be invited")
	ErrReadOnlyGroup        = errors.New("callstate: group is read-only")
	ErrCallTerminal         = errors.New("callstate: call has already ended")
	ErrAlreadyResponded     = errors.New("callstate: participant already responded")
	ErrNotParticipant       = errors.New("callstate: caller is not a participant of this call")
	ErrParticipantNotFound  = errors.New("callstate: participant not found")
)
