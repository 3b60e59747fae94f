package api

import (
	"errors"
	"net/http"

	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/ingest"
	"github.com/familyspace/callcore/internal/recorder"
	"github.com/familyspace/callcore/internal/recordingqueue"
	"github.com/familyspace/callcore/internal/signaling"
)

// statusFor maps a domain sentinel error to the HTTP status and message a
// client should see. Unrecognized errors fall back to 500 with a generic
// message so internal detail never leaks into a response body.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, callerr.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, callerr.ErrPermissionDenied):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, callerr.ErrNotMember):
		return http.StatusForbidden, "not a member of this group"
	case errors.Is(err, callerr.ErrCallNotFound), errors.Is(err, signaling.ErrCallNotFound):
		return http.StatusNotFound, "call not found"
	case errors.Is(err, callerr.ErrParticipantNotFound), errors.Is(err, callstate.ErrParticipantNotFound):
		return http.StatusForbidden, "not a participant of this call"
	case errors.Is(err, callerr.ErrQueueEntryNotFound), errors.Is(err, recordingqueue.ErrNotInQueue):
		return http.StatusNotFound, "queue entry not found"
	case errors.Is(err, callerr.ErrNoRecording):
		return http.StatusConflict, "call has no recording"
	case errors.Is(err, callerr.ErrAlreadyHidden):
		return http.StatusConflict, "recording already hidden"
	case errors.Is(err, callerr.ErrRecordingAlreadyRunning):
		return http.StatusConflict, "recording already running"
	case errors.Is(err, callerr.ErrBackendUnavailable), errors.Is(err, recorder.ErrBackendTransport):
		return http.StatusServiceUnavailable, "recorder backend unavailable"
	case errors.Is(err, callerr.ErrTranscodeFailed), errors.Is(err, ingest.ErrTranscoderUnavailable):
		return http.StatusUnprocessableEntity, "recording could not be processed"
	case errors.Is(err, callstate.ErrInvalidInvitees):
		return http.StatusBadRequest, "invalid invitees"
	case errors.Is(err, callstate.ErrSupervisorNotAllowed):
		return http.StatusForbidden, "supervisor role cannot be invited"
	case errors.Is(err, callstate.ErrReadOnlyGroup):
		return http.StatusForbidden, "group is read-only"
	case errors.Is(err, callstate.ErrCallTerminal):
		return http.StatusConflict, "call has already ended"
	case errors.Is(err, callstate.ErrAlreadyResponded):
		return http.StatusConflict, "already responded to this call"
	case errors.Is(err, callstate.ErrNotParticipant):
		return http.StatusForbidden, "not a participant of this call"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeDomainError maps err to a status/message pair via statusFor and
// writes it as a standard error envelope. Unmapped errors are logged with
// detail server-side before the generic message goes out.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("unhandled domain error", "error", err)
	}
	writeError(w, status, msg)
}
