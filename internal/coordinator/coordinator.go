// Package coordinator implements CallCoordinator: the public operation
// surface for call lifecycle (initiate, respond, leave, end) and the thin
// signaling pass-through, composing CallStateMachine, ParticipantRegistry,
// SignalRelay, and CallStore behind per-call locking modeled on
// internal/media/conference.go's ConferenceManager.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callerr"
	"github.com/familyspace/callcore/internal/callstate"
	"github.com/familyspace/callcore/internal/callstore"
	"github.com/familyspace/callcore/internal/signaling"
)

// MemberDirectory validates that a candidate invitee is a registered,
// non-supervisor member of a group. It is the group-membership system this
// core treats as an external collaborator.
type MemberDirectory interface {
	ValidateInvitee(ctx context.Context, groupID, memberID string) error
}

// GroupSettingsProvider resolves the settings that gate role capabilities
// and read-only enforcement for a group. External collaborator.
type GroupSettingsProvider interface {
	SettingsFor(ctx context.Context, groupID string) (authctx.GroupSettings, error)
}

// RecorderStopper lets Coordinator implicitly stop an in-progress recording
// when a call ends or a participant leaves (spec.md §4.7 cancellation
// policy). Satisfied structurally by *recorder.Coordinator.
type RecorderStopper interface {
	StopForCallEnd(ctx context.Context, callID string, kind callstate.Kind) error
}

// Coordinator is CallCoordinator.
type Coordinator struct {
	store    callstore.Store
	relay    *signaling.Relay
	policy   authctx.Policy
	members  MemberDirectory
	settings GroupSettingsProvider
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	peersMu sync.RWMutex
	peers   map[string][]string

	recMu     sync.RWMutex
	recording map[string]bool

	recorderStop RecorderStopper
}

// New creates a Coordinator. Call SetRelay before serving traffic: the
// Coordinator implements signaling.PeerLister and signaling.RecorderPresence
// itself, so the Relay must be constructed after the Coordinator and wired
// back in (construction order: coordinator, then relay with the coordinator
// as its PeerLister/RecorderPresence, then SetRelay).
func New(store callstore.Store, policy authctx.Policy, members MemberDirectory, settings GroupSettingsProvider, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		policy:    policy,
		members:   members,
		settings:  settings,
		logger:    logger.With("subsystem", "call-coordinator"),
		locks:     make(map[string]*sync.Mutex),
		peers:     make(map[string][]string),
		recording: make(map[string]bool),
	}
}

// SetRelay wires the SignalRelay this Coordinator deposits into and drains
// from. Must be called once before DepositSignal/DrainSignals are used.
func (c *Coordinator) SetRelay(relay *signaling.Relay) {
	c.relay = relay
}

// SetRecorderStopper wires the RecorderCoordinator used to implicitly stop
// an in-progress recording on End/Leave. Like SetRelay, this breaks a
// construction-order cycle: RecorderCoordinator depends on this Coordinator
// as its PresenceSetter, so it must be constructed after the Coordinator
// and wired back in. Optional: if never called, End/Leave skip the
// implicit stop (no recording can ever be active in that configuration).
func (c *Coordinator) SetRecorderStopper(r RecorderStopper) {
	c.recorderStop = r
}

// callLock returns (creating if needed) the per-call mutex for callID.
func (c *Coordinator) callLock(callID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[callID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[callID] = l
	}
	return l
}

// withCall loads the aggregate for callID, serializes fn against any other
// operation on the same call, and persists the aggregate if fn succeeds.
func (c *Coordinator) withCall(ctx context.Context, callID string, fn func(agg *callstate.Aggregate) error) (*callstate.Aggregate, error) {
	lock := c.callLock(callID)
	lock.Lock()
	defer lock.Unlock()

	agg, err := c.store.GetCall(ctx, callID)
	if err != nil {
		if err == callstore.ErrNotFound {
			return nil, callerr.ErrCallNotFound
		}
		return nil, fmt.Errorf("loading call: %w", err)
	}

	if err := fn(agg); err != nil {
		return nil, err
	}

	if err := c.store.SaveCall(ctx, agg); err != nil {
		return nil, fmt.Errorf("saving call: %w", err)
	}

	c.updatePeerCache(agg)
	return agg, nil
}

// updatePeerCache refreshes the in-memory peer snapshot SignalRelay consults
// through PeersOf. It never performs I/O so Relay.Deposit stays a pure
// in-memory critical section.
func (c *Coordinator) updatePeerCache(agg *callstate.Aggregate) {
	ids := make([]string, 0, len(agg.Participants)+1)
	if !agg.Call.Status.Terminal() {
		ids = append(ids, agg.Call.InitiatorID)
		for _, p := range agg.Participants {
			if !p.Status.Terminal() {
				ids = append(ids, p.MemberID)
			}
		}
	}

	c.peersMu.Lock()
	if agg.Call.Status.Terminal() {
		delete(c.peers, agg.Call.CallID)
	} else {
		c.peers[agg.Call.CallID] = ids
	}
	c.peersMu.Unlock()
}

// PeersOf implements signaling.PeerLister.
func (c *Coordinator) PeersOf(callID string) ([]string, bool) {
	c.peersMu.RLock()
	defer c.peersMu.RUnlock()
	ids, ok := c.peers[callID]
	return ids, ok
}

// IsRecording implements signaling.RecorderPresence.
func (c *Coordinator) IsRecording(callID string) bool {
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	return c.recording[callID]
}

// SetRecording lets RecorderCoordinator report whether the ghost recorder
// currently holds an active session for callID.
func (c *Coordinator) SetRecording(callID string, active bool) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if active {
		c.recording[callID] = true
	} else {
		delete(c.recording, callID)
	}
}

// ActiveCallCount returns the number of calls currently non-terminal,
// for metrics. Reads the same peer cache PeersOf serves.
func (c *Coordinator) ActiveCallCount() int {
	c.peersMu.RLock()
	defer c.peersMu.RUnlock()
	return len(c.peers)
}

// ActiveRecordingCount returns the number of calls the ghost recorder
// currently holds a session for, for metrics.
func (c *Coordinator) ActiveRecordingCount() int {
	c.recMu.RLock()
	defer c.recMu.RUnlock()
	return len(c.recording)
}

func (c *Coordinator) capabilitiesFor(ctx context.Context, auth *authctx.AuthContext, groupID string) (authctx.Capabilities, error) {
	if auth == nil {
		return authctx.Capabilities{}, callerr.ErrUnauthenticated
	}
	if auth.GroupID != groupID {
		return authctx.Capabilities{}, callerr.ErrNotMember
	}
	settings, err := c.settings.SettingsFor(ctx, groupID)
	if err != nil {
		return authctx.Capabilities{}, fmt.Errorf("resolving group settings: %w", err)
	}
	return c.policy.Can(auth.Role, settings), nil
}

// ListCalls returns a page of call history for groupID, descending by
// StartedAt. Scope is derived from the caller's capabilities: admins see
// every call in the group; everyone else sees only calls they participated
// in as initiator or participant.
func (c *Coordinator) ListCalls(ctx context.Context, auth *authctx.AuthContext, groupID string, kind callstate.Kind, limit, offset int) ([]*callstate.Aggregate, int, error) {
	caps, err := c.capabilitiesFor(ctx, auth, groupID)
	if err != nil {
		return nil, 0, err
	}
	if !caps.CanSee {
		return nil, 0, callerr.ErrPermissionDenied
	}

	filter := callstore.ListFilter{GroupID: groupID, Kind: kind, Limit: limit, Offset: offset}
	if !caps.IsAdmin {
		filter.MemberID = auth.MemberID
	}
	return c.store.ListCalls(ctx, filter)
}

// ListActive returns the caller's non-terminal calls split into active
// (caller is initiator or has accepted/joined) and incoming (caller is
// still invited).
func (c *Coordinator) ListActive(ctx context.Context, auth *authctx.AuthContext, groupID string) (active, incoming []*callstate.Aggregate, err error) {
	caps, err := c.capabilitiesFor(ctx, auth, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !caps.CanSee {
		return nil, nil, callerr.ErrPermissionDenied
	}

	aggs, err := c.store.ListActiveForMember(ctx, groupID, auth.MemberID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing active calls: %w", err)
	}

	for _, agg := range aggs {
		if agg.Call.InitiatorID == auth.MemberID {
			active = append(active, agg)
			continue
		}
		p := agg.ParticipantFor(auth.MemberID)
		if p == nil {
			continue
		}
		if p.Status == callstate.ParticipantInvited {
			incoming = append(incoming, agg)
		} else {
			active = append(active, agg)
		}
	}
	return active, incoming, nil
}

// Initiate creates a new call. See callstate.Initiate for the full
// precondition table.
func (c *Coordinator) Initiate(ctx context.Context, auth *authctx.AuthContext, groupID string, kind callstate.Kind, invitees []string) (*callstate.Aggregate, error) {
	caps, err := c.capabilitiesFor(ctx, auth, groupID)
	if err != nil {
		return nil, err
	}
	if !caps.CanUseCalls {
		return nil, callerr.ErrPermissionDenied
	}

	settings, err := c.settings.SettingsFor(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolving group settings: %w", err)
	}

	validate := func(memberID string) error {
		return c.members.ValidateInvitee(ctx, groupID, memberID)
	}

	agg, err := callstate.Initiate(groupID, auth.MemberID, kind, invitees, settings.ReadOnly, validate, time.Now())
	if err != nil {
		return nil, err
	}

	if err := c.store.CreateCall(ctx, agg); err != nil {
		return nil, fmt.Errorf("persisting call: %w", err)
	}
	c.updatePeerCache(agg)
	c.logger.Info("call initiated", "call_id", agg.Call.CallID, "group_id", groupID, "kind", kind, "invitees", len(invitees))
	return agg, nil
}

// Respond applies the caller's accept/reject decision to an invited call.
func (c *Coordinator) Respond(ctx context.Context, auth *authctx.AuthContext, callID string, accept bool) (*callstate.Aggregate, error) {
	if auth == nil {
		return nil, callerr.ErrUnauthenticated
	}
	agg, err := c.withCall(ctx, callID, func(agg *callstate.Aggregate) error {
		if agg.Call.GroupID != auth.GroupID {
			return callerr.ErrNotMember
		}
		return callstate.Respond(agg, auth.MemberID, accept, time.Now())
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("call response recorded", "call_id", callID, "member_id", auth.MemberID, "accept", accept)
	return agg, nil
}

// Leave removes the caller from the call, ending it if appropriate.
func (c *Coordinator) Leave(ctx context.Context, auth *authctx.AuthContext, callID string) (*callstate.Aggregate, error) {
	if auth == nil {
		return nil, callerr.ErrUnauthenticated
	}
	agg, err := c.withCall(ctx, callID, func(agg *callstate.Aggregate) error {
		if agg.Call.GroupID != auth.GroupID {
			return callerr.ErrNotMember
		}
		return callstate.Leave(agg, auth.MemberID, time.Now())
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("participant left call", "call_id", callID, "member_id", auth.MemberID, "call_status", agg.Call.Status)
	c.stopRecordingIfActive(ctx, agg)
	return agg, nil
}

// End terminates the call on behalf of the initiator or a participant.
func (c *Coordinator) End(ctx context.Context, auth *authctx.AuthContext, callID string) (*callstate.Aggregate, error) {
	if auth == nil {
		return nil, callerr.ErrUnauthenticated
	}
	agg, err := c.withCall(ctx, callID, func(agg *callstate.Aggregate) error {
		if agg.Call.GroupID != auth.GroupID {
			return callerr.ErrNotMember
		}
		return callstate.End(agg, auth.MemberID, time.Now())
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("call ended", "call_id", callID, "member_id", auth.MemberID)
	c.stopRecordingIfActive(ctx, agg)
	return agg, nil
}

// stopRecordingIfActive implicitly stops a running recording after a call
// has ended or been left (spec.md §4.7 cancellation policy). Runs after
// the triggering state transition is already persisted, so the recorder's
// own load-modify-save of Recording.Status can't be clobbered by it. Errors
// are logged, not propagated: the end/leave operation has already
// succeeded from the caller's point of view.
func (c *Coordinator) stopRecordingIfActive(ctx context.Context, agg *callstate.Aggregate) {
	if c.recorderStop == nil || agg.Call.Recording.Status != callstate.RecordingRecording {
		return
	}
	if err := c.recorderStop.StopForCallEnd(ctx, agg.Call.CallID, agg.Call.Kind); err != nil {
		c.logger.Error("implicit recording stop failed", "call_id", agg.Call.CallID, "error", err)
	}
}

// HideRecording marks a call's recording hidden. Admin-only.
func (c *Coordinator) HideRecording(ctx context.Context, auth *authctx.AuthContext, callID string) (*callstate.Aggregate, error) {
	if auth == nil {
		return nil, callerr.ErrUnauthenticated
	}
	agg, err := c.withCall(ctx, callID, func(agg *callstate.Aggregate) error {
		if agg.Call.GroupID != auth.GroupID {
			return callerr.ErrNotMember
		}
		caps, err := c.capabilitiesFor(ctx, auth, agg.Call.GroupID)
		if err != nil {
			return err
		}
		if !caps.IsAdmin {
			return callerr.ErrPermissionDenied
		}
		if agg.Call.Recording.Status == callstate.RecordingNone {
			return callerr.ErrNoRecording
		}
		if agg.Call.Recording.Hidden {
			return callerr.ErrAlreadyHidden
		}
		now := time.Now()
		agg.Call.Recording.Hidden = true
		agg.Call.Recording.HiddenByID = auth.MemberID
		agg.Call.Recording.HiddenAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("recording hidden", "call_id", callID, "admin_member_id", auth.MemberID)
	return agg, nil
}

// participantOf checks that auth's member is the initiator or a current
// participant of callID, as required before any signaling pass-through.
func (c *Coordinator) participantOf(ctx context.Context, auth *authctx.AuthContext, callID string) error {
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
	if agg.Call.InitiatorID == auth.MemberID {
		return nil
	}
	if agg.ParticipantFor(auth.MemberID) == nil {
		return callerr.ErrParticipantNotFound
	}
	return nil
}

// DepositSignal is a thin pass-through to SignalRelay after verifying the
// caller is a participant or initiator of callID.
func (c *Coordinator) DepositSignal(ctx context.Context, auth *authctx.AuthContext, callID, targetPeerID string, msg signaling.Message) error {
	if auth == nil {
		return callerr.ErrUnauthenticated
	}
	if err := c.participantOf(ctx, auth, callID); err != nil {
		return err
	}
	msg.FromPeerID = auth.MemberID
	msg.Timestamp = time.Now()
	if err := c.relay.Deposit(callID, auth.MemberID, targetPeerID, msg); err != nil {
		if err == signaling.ErrCallNotFound {
			return callerr.ErrCallNotFound
		}
		return err
	}
	return nil
}

// DrainSignals is a thin pass-through to SignalRelay after verifying the
// caller is a participant or initiator of callID.
func (c *Coordinator) DrainSignals(ctx context.Context, auth *authctx.AuthContext, callID string) ([]signaling.Message, []string, string, error) {
	if auth == nil {
		return nil, nil, "", callerr.ErrUnauthenticated
	}
	if err := c.participantOf(ctx, auth, callID); err != nil {
		return nil, nil, "", err
	}
	signals := c.relay.Drain(callID, auth.MemberID)
	peers, _ := c.PeersOf(callID)
	return signals, peers, auth.MemberID, nil
}
