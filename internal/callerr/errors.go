// Package callerr holds the cross-package error taxonomy shared by
// coordinator, recorder, and ingest. Package-local
// preconditions (e.g. callstate.ErrAlreadyResponded) stay in their own
// package; these sentinels are the ones the HTTP layer needs to recognize
// regardless of which package raised them.
package callerr

import "errors"

var (
	// ErrUnauthenticated means the request carried no valid AuthContext.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrPermissionDenied means the caller's role lacks the required capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotMember means the caller is not a member of the target group.
	ErrNotMember = errors.New("not a member of group")

	// ErrCallNotFound means the referenced call does not exist.
	ErrCallNotFound = errors.New("call not found")

	// ErrParticipantNotFound means the caller is not a participant of the call.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrQueueEntryNotFound means the referenced queue entry does not exist.
	ErrQueueEntryNotFound = errors.New("queue entry not found")

	// ErrNoRecording means hideRecording was called on a call with no recording.
	ErrNoRecording = errors.New("call has no recording")

	// ErrAlreadyHidden means hideRecording was called twice.
	ErrAlreadyHidden = errors.New("recording already hidden")

	// ErrRecordingAlreadyRunning means start-recording was called while one is active.
	ErrRecordingAlreadyRunning = errors.New("recording already running")

	// ErrBackendUnavailable means a RecorderBackend call failed or timed out.
	ErrBackendUnavailable = errors.New("recorder backend unavailable")

	// ErrTranscodeFailed means the transcode capability failed to convert an artifact.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrNotifierFailed means a Notifier send failed. Never fails the parent operation.
	ErrNotifierFailed = errors.New("notifier failed")

	// ErrInternal wraps unexpected programming errors surfaced to callers as 500s.
	ErrInternal = errors.New("internal error")
)
