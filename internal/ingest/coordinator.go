// Package ingest implements RecordingIngest: accepts the finished recording
// artifact from the ghost recorder, persists it, optionally transcodes it
// to the canonical container, and transitions Call.recording to its
// terminal state.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/callstore"
	"github.com/familyspace/callcore/internal/recordingqueue"
)

// canonicalMimeType is the container RecordingIngest converts every
// artifact to before marking a recording ready.
var canonicalMimeType = map[callstate.Kind]string{
	callstate.KindVideo: "video/mp4",
	callstate.KindVoice: "audio/mpeg",
}

var canonicalExt = map[callstate.Kind]string{
	callstate.KindVideo: ".mp4",
	callstate.KindVoice: ".mp3",
}

// AuditRecorder lets Coordinator append ingest outcomes to the recorder
// session audit trail. Satisfied structurally by *recorder.Coordinator.
type AuditRecorder interface {
	NoteIngestEvent(callID string, ok bool, detail string)
}

// Coordinator is RecordingIngest.
type Coordinator struct {
	store      callstore.Store
	storage    Storage
	transcoder Transcoder
	queue      *recordingqueue.Queue
	audit      AuditRecorder
	logger     *slog.Logger
}

// New creates a RecordingIngest coordinator. transcoder may be nil, in
// which case a non-canonical artifact always fails ingest with
// ErrTranscoderUnavailable. audit may be nil to skip audit trail recording.
func New(store callstore.Store, storage Storage, transcoder Transcoder, queue *recordingqueue.Queue, audit AuditRecorder, logger *slog.Logger) *Coordinator {
	if transcoder == nil {
		transcoder = NoopTranscoder{}
	}
	return &Coordinator{
		store:      store,
		storage:    storage,
		transcoder: transcoder,
		queue:      queue,
		audit:      audit,
		logger:     logger.With("subsystem", "recording-ingest"),
	}
}

// Ingest accepts the artifact bytes for (callID, kind) with their original
// mime type, persists them, transcodes if needed, and updates
// Call.recording to its terminal state. Once the call is loaded and the
// caller passes the membership checks, RecordingQueue.RecordingEnded is
// called exactly once, whether the ingest succeeds or fails; a request
// rejected before that point does not release a slot.
func (c *Coordinator) Ingest(ctx context.Context, auth *authctx.AuthContext, callID string, kind callstate.Kind, artifact io.Reader, originalMimeType string) error {
	if auth == nil {
		return callerr.ErrUnauthenticated
	}

	agg, err := c.store.GetCall(ctx, callID)
	if err != nil {
		if err == callstore.ErrNotFound {
			return callerr.ErrCallNotFound
		}
		return fmt.Errorf("loading call: %w", err)
	}
	if agg.Call.GroupID != auth.GroupID {
		return callerr.ErrNotMember
	}
	if agg.Call.InitiatorID != auth.MemberID && agg.ParticipantFor(auth.MemberID) == nil {
		return callerr.ErrParticipantNotFound
	}

	defer c.queue.RecordingEnded()

	ext, ok := canonicalExt[kind]
	if !ok {
		ext = ""
	}

	fileID, url, sizeBytes, err := c.storage.Persist(ctx, callID, artifact, ext)
	if err != nil {
		c.fail(ctx, agg, callID, fmt.Errorf("persisting artifact: %w", err))
		return fmt.Errorf("persisting artifact: %w", err)
	}

	if want := canonicalMimeType[kind]; originalMimeType != "" && originalMimeType != want {
		if err := c.transcoder.Transcode(ctx, fileID, originalMimeType, want); err != nil {
			c.fail(ctx, agg, callID, fmt.Errorf("%w: %v", callerr.ErrTranscodeFailed, err))
			return fmt.Errorf("%w: %v", callerr.ErrTranscodeFailed, err)
		}
	}

	agg.Call.Recording.Status = callstate.RecordingReady
	agg.Call.Recording.FileID = fileID
	agg.Call.Recording.URL = url
	agg.Call.Recording.SizeBytes = sizeBytes
	if agg.Call.DurationMs != nil {
		agg.Call.Recording.DurationMs = *agg.Call.DurationMs
	}

	if err := c.store.SaveCall(ctx, agg); err != nil {
		return fmt.Errorf("saving call after ingest: %w", err)
	}

	if c.audit != nil {
		c.audit.NoteIngestEvent(callID, true, fmt.Sprintf("file_id=%s size_bytes=%d", fileID, sizeBytes))
	}
	c.logger.Info("recording ingested", "call_id", callID, "kind", kind, "file_id", fileID, "size_bytes", sizeBytes)
	return nil
}

// fail marks a recording failed after an ingest-time error, best-effort:
// the caller has already been told the real error, this only updates the
// persisted Call state and audit trail.
func (c *Coordinator) fail(ctx context.Context, agg *callstate.Aggregate, callID string, cause error) {
	agg.Call.Recording.Status = callstate.RecordingFailed
	if err := c.store.SaveCall(ctx, agg); err != nil {
		c.logger.Error("failed to mark recording failed after ingest error", "call_id", callID, "error", err)
	}
	if c.audit != nil {
		c.audit.NoteIngestEvent(callID, false, cause.Error())
	}
	c.logger.Warn("recording ingest failed", "call_id", callID, "error", cause)
}
