// Package recorder implements RecorderCoordinator: it bridges a call to the
// external RecorderBackend, consults RecordingQueue for admission, and
// registers the ghost recorder as a virtual peer in the SignalRelay.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/callstore"
	"github.com/familyspace/callcore/internal/recordingqueue"
	"github.com/familyspace/callcore/internal/signaling"
)

// ingestGracePeriod bounds how long Stop waits for an artifact to arrive
// before marking the recording failed and releasing the slot anyway.
const ingestGracePeriod = 2 * time.Minute

// auditTrailSize is the number of recent recorder session events retained
// for operator visibility.
const auditTrailSize = 200

// session is the local hint RecorderCoordinator keeps per (callID, kind).
// Authoritative state lives in the RecorderBackend; this is only consulted
// as a fallback when the backend is unreachable.
type session struct {
	startedAt time.Time
}

// PresenceSetter lets RecorderCoordinator report whether the ghost recorder
// currently holds a session for a call, so SignalRelay broadcasts know
// whether to fan out to the "recorder" mailbox. Satisfied structurally by
// *coordinator.Coordinator.
type PresenceSetter interface {
	SetRecording(callID string, active bool)
}

// StartResult is the outcome of Start: either the recording began, or the
// caller must wait in the RecordingQueue.
type StartResult struct {
	Started    bool
	NeedsQueue bool
	Queue      recordingqueue.AdmitResult
}

// Coordinator is RecorderCoordinator.
type Coordinator struct {
	backend   Backend
	queue     *recordingqueue.Queue
	store     callstore.Store
	relay     *signaling.Relay
	presence  PresenceSetter
	jwtSecret []byte
	apiBase   string
	logger    *slog.Logger
	audit     *auditRing

	mu       sync.Mutex
	sessions map[string]session
}

// New creates a RecorderCoordinator.
func New(backend Backend, queue *recordingqueue.Queue, store callstore.Store, relay *signaling.Relay, presence PresenceSetter, jwtSecret []byte, apiBase string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		backend:   backend,
		queue:     queue,
		store:     store,
		relay:     relay,
		presence:  presence,
		jwtSecret: jwtSecret,
		apiBase:   apiBase,
		logger:    logger.With("subsystem", "recorder-coordinator"),
		sessions:  make(map[string]session),
		audit:     newAuditRing(auditTrailSize),
	}
}

func sessionKey(callID string, kind callstate.Kind) string {
	return callID + ":" + string(kind)
}

// eligibleToRecord reports whether auth's member may start/stop a recording
// for agg: the initiator, or a participant whose status is accepted or
// joined (spec.md §9 open question (a)).
func eligibleToRecord(agg *callstate.Aggregate, memberID string) bool {
	if agg.Call.InitiatorID == memberID {
		return true
	}
	p := agg.ParticipantFor(memberID)
	if p == nil {
		return false
	}
	return p.Status == callstate.ParticipantAccepted || p.Status == callstate.ParticipantJoined
}

// Start admits and starts a recording for callID. If the RecordingQueue
// reports NeedsQueue, the caller must wait; Start does not invoke the
// backend in that case.
func (c *Coordinator) Start(ctx context.Context, auth *authctx.AuthContext, callID string, kind callstate.Kind) (StartResult, error) {
	if auth == nil {
		return StartResult{}, callerr.ErrUnauthenticated
	}

	agg, err := c.store.GetCall(ctx, callID)
	if err != nil {
		if err == callstore.ErrNotFound {
			return StartResult{}, callerr.ErrCallNotFound
		}
		return StartResult{}, fmt.Errorf("loading call: %w", err)
	}
	if agg.Call.GroupID != auth.GroupID {
		return StartResult{}, callerr.ErrNotMember
	}
	if agg.Call.Status != callstate.StatusActive {
		return StartResult{}, callstate.ErrCallTerminal
	}
	if !eligibleToRecord(agg, auth.MemberID) {
		return StartResult{}, callerr.ErrParticipantNotFound
	}
	if agg.Call.Recording.Status == callstate.RecordingRecording {
		return StartResult{}, callerr.ErrRecordingAlreadyRunning
	}

	intended := make([]string, 0, len(agg.Participants)+1)
	intended = append(intended, agg.Call.InitiatorID)
	for _, p := range agg.Participants {
		intended = append(intended, p.MemberID)
	}

	admitResult, err := c.queue.Admit(ctx, auth.UserID, auth.GroupID, kind, intended, "", "")
	if err != nil {
		return StartResult{}, fmt.Errorf("admitting recording request: %w", err)
	}

	if admitResult.NeedsQueue {
		turn, err := c.queue.CheckTurn(admitResult.QueueID)
		if err != nil {
			return StartResult{}, fmt.Errorf("checking queue turn: %w", err)
		}
		if !turn {
			return StartResult{NeedsQueue: true, Queue: admitResult}, nil
		}
		c.queue.RecordingStarted(auth.UserID, kind)
	}

	callbackAuth, err := authctx.GenerateCallbackToken(c.jwtSecret, callID, string(kind))
	if err != nil {
		return StartResult{}, fmt.Errorf("minting callback token: %w", err)
	}

	if err := c.startWithRetry(ctx, agg.Call.GroupID, callID, kind, callbackAuth); err != nil {
		c.queue.RecordingEnded()
		c.audit.record(AuditEvent{CallID: callID, Kind: EventFailed, At: time.Now(), Detail: err.Error()})
		return StartResult{}, fmt.Errorf("%w: %v", callerr.ErrBackendUnavailable, err)
	}

	agg.Call.Recording.Status = callstate.RecordingRecording
	if err := c.store.SaveCall(ctx, agg); err != nil {
		return StartResult{}, fmt.Errorf("saving call: %w", err)
	}

	c.mu.Lock()
	c.sessions[sessionKey(callID, kind)] = session{startedAt: time.Now()}
	c.mu.Unlock()

	c.presence.SetRecording(callID, true)
	c.audit.record(AuditEvent{CallID: callID, Kind: EventStarted, At: time.Now()})
	c.logger.Info("recording started", "call_id", callID, "kind", kind)

	return StartResult{Started: true}, nil
}

// startWithRetry invokes Backend.Start, retrying once with jittered backoff
// on failure (spec.md §7 propagation policy: retried once, start only).
func (c *Coordinator) startWithRetry(ctx context.Context, groupID, callID string, kind callstate.Kind, callbackAuth string) error {
	err := c.backend.Start(ctx, groupID, callID, kind, callbackAuth, c.apiBase)
	if err == nil {
		return nil
	}

	backoff := time.Duration(150+rand.Intn(200)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	return c.backend.Start(ctx, groupID, callID, kind, callbackAuth, c.apiBase)
}

// Stop stops a recording. Stopping a non-running recording is a no-op
// success (spec.md §4.7 cancellation policy).
func (c *Coordinator) Stop(ctx context.Context, auth *authctx.AuthContext, callID string, kind callstate.Kind) error {
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
	if !eligibleToRecord(agg, auth.MemberID) {
		return callerr.ErrParticipantNotFound
	}

	return c.stopLocked(ctx, agg, kind)
}

// StopForCallEnd implicitly stops an in-progress recording when the call
// itself ends or a participant leaves (spec.md §4.7 cancellation policy).
// It bypasses the auth/eligibility checks Stop enforces for the explicit
// HTTP route: CallCoordinator has already authorized the end/leave
// operation that triggered this call.
func (c *Coordinator) StopForCallEnd(ctx context.Context, callID string, kind callstate.Kind) error {
	agg, err := c.store.GetCall(ctx, callID)
	if err != nil {
		if err == callstore.ErrNotFound {
			return nil
		}
		return fmt.Errorf("loading call: %w", err)
	}
	return c.stopLocked(ctx, agg, kind)
}

// stopLocked performs the actual backend stop, status transition, and
// bookkeeping shared by Stop and StopForCallEnd. Stopping a non-running
// recording is a no-op success.
func (c *Coordinator) stopLocked(ctx context.Context, agg *callstate.Aggregate, kind callstate.Kind) error {
	callID := agg.Call.CallID

	if agg.Call.Recording.Status != callstate.RecordingRecording {
		return nil
	}

	if err := c.backend.Stop(ctx, callID, kind); err != nil {
		c.logger.Error("recorder backend stop failed", "call_id", callID, "error", err)
	}

	agg.Call.Recording.Status = callstate.RecordingProcessing
	if err := c.store.SaveCall(ctx, agg); err != nil {
		return fmt.Errorf("saving call: %w", err)
	}

	c.mu.Lock()
	delete(c.sessions, sessionKey(callID, kind))
	c.mu.Unlock()

	c.presence.SetRecording(callID, false)
	c.audit.record(AuditEvent{CallID: callID, Kind: EventStopped, At: time.Now()})
	c.logger.Info("recording stopped, awaiting ingest", "call_id", callID, "kind", kind)

	go c.failIfNoIngest(callID)

	return nil
}

// failIfNoIngest marks a recording failed if no artifact arrives within the
// ingest grace period after Stop. It does nothing if the stored recording
// status has already moved away from processing, which RecordingIngest does
// when it marks the recording ready or failed.
func (c *Coordinator) failIfNoIngest(callID string) {
	time.Sleep(ingestGracePeriod)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agg, err := c.store.GetCall(ctx, callID)
	if err != nil {
		return
	}
	if agg.Call.Recording.Status != callstate.RecordingProcessing {
		return
	}

	agg.Call.Recording.Status = callstate.RecordingFailed
	if err := c.store.SaveCall(ctx, agg); err != nil {
		c.logger.Error("failed to mark recording failed after ingest grace period", "call_id", callID, "error", err)
		return
	}
	c.queue.RecordingEnded()
	c.audit.record(AuditEvent{CallID: callID, Kind: EventFailed, At: time.Now(), Detail: "ingest grace period elapsed"})
	c.logger.Warn("recording marked failed: no ingest artifact within grace period", "call_id", callID)
}

// IsRecording delegates to the backend with a short timeout, falling back
// to the local hint if the backend is unreachable.
func (c *Coordinator) IsRecording(ctx context.Context, callID string, kind callstate.Kind) bool {
	running, err := c.backend.Status(ctx, callID)
	if err == nil {
		return running
	}

	c.logger.Warn("recorder backend status check failed, falling back to local hint", "call_id", callID, "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionKey(callID, kind)]
	return ok
}

// GetRecorderSignals drains the "recorder" mailbox for callID. Called by
// the RecorderBackend using its scoped callback token.
func (c *Coordinator) GetRecorderSignals(callID string) []signaling.Message {
	return c.relay.Drain(callID, signaling.RecorderPeerID)
}

// SendRecorderSignal deposits a signal on behalf of the "recorder" peer.
func (c *Coordinator) SendRecorderSignal(callID, targetPeerID string, msg signaling.Message) error {
	msg.FromPeerID = signaling.RecorderPeerID
	msg.Timestamp = time.Now()
	if err := c.relay.Deposit(callID, signaling.RecorderPeerID, targetPeerID, msg); err != nil {
		if err == signaling.ErrCallNotFound {
			return callerr.ErrCallNotFound
		}
		return err
	}
	return nil
}

// RecentEvents returns the recorder session audit trail, oldest first.
func (c *Coordinator) RecentEvents() []AuditEvent {
	return c.audit.recent()
}

// NoteIngestEvent records an ingest outcome into the recorder session audit
// trail. Called by internal/ingest once a RecordingIngest call completes, so
// the trail carries the full started/stopped/ingested/failed lifecycle in
// one place.
func (c *Coordinator) NoteIngestEvent(callID string, ok bool, detail string) {
	kind := EventIngested
	if !ok {
		kind = EventFailed
	}
	c.audit.record(AuditEvent{CallID: callID, Kind: kind, At: time.Now(), Detail: detail})
}
