// Package signaling implements the ephemeral, in-process SignalRelay: a
// store-and-forward mailbox for WebRTC offer/answer/candidate messages
// between the peers of one call. State here is deliberately not persisted;
// it is dropped on process restart and evicted on a TTL sweep.
//
// The create-on-demand / destroy-when-empty map-of-mailboxes structure is
// modeled on the live-room bookkeeping in a conference bridge manager: one
// coarse lock over the top-level map, one fine-grained lock per call.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RecorderPeerID is the reserved peer id the ghost recorder uses once
// RecorderCoordinator has bridged it into a call's signaling topology.
const RecorderPeerID = "recorder"

// ErrCallNotFound is returned by Deposit when the set of known peers for a
// call cannot be resolved.
var ErrCallNotFound = errors.New("signaling: call not found")

// MessageType is the kind of payload relayed between peers.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
)

// Message is one relayed signaling payload. Data is an opaque transport
// payload (an SDP blob or ICE candidate); the relay never interprets it.
type Message struct {
	Type       MessageType
	Data       []byte
	FromPeerID string
	Timestamp  time.Time
}

// PeerLister resolves the set of peer ids known to a call — the members
// currently party to it. It is supplied by CallCoordinator, which composes
// the ParticipantRegistry; the relay has no membership knowledge of its
// own. The second return value is false when the call is unknown.
type PeerLister interface {
	PeersOf(callID string) ([]string, bool)
}

// RecorderPresence reports whether a ghost recorder currently holds an
// active session for a call, so broadcast deposits know whether to also
// fan out to the "recorder" mailbox.
type RecorderPresence interface {
	IsRecording(callID string) bool
}

type entry struct {
	msg Message
	at  time.Time
}

// callMailboxes holds all peer mailboxes for one call behind its own lock,
// so a sweep or deposit on one call never blocks operations on another.
type callMailboxes struct {
	mu    sync.Mutex
	boxes map[string][]entry
}

// Relay is the SignalRelay: Map<callId, Map<peerId, Deque<Message>>>.
type Relay struct {
	mu     sync.Mutex
	calls  map[string]*callMailboxes
	ttl    time.Duration
	peers  PeerLister
	rec    RecorderPresence
	logger *slog.Logger
}

// New creates a Relay. ttl bounds how long an undelivered message survives;
// peers and rec are consulted only during broadcast deposits.
func New(ttl time.Duration, peers PeerLister, rec RecorderPresence, logger *slog.Logger) *Relay {
	return &Relay{
		calls:  make(map[string]*callMailboxes),
		ttl:    ttl,
		peers:  peers,
		rec:    rec,
		logger: logger.With("subsystem", "signal-relay"),
	}
}

func (r *Relay) callBox(callID string, create bool) *callMailboxes {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.calls[callID]
	if !ok {
		if !create {
			return nil
		}
		cb = &callMailboxes{boxes: make(map[string][]entry)}
		r.calls[callID] = cb
	}
	return cb
}

// Deposit appends msg to the relevant mailbox(es). When targetPeerID is
// empty, the message is broadcast to every known peer of the call except
// fromPeerID, plus "recorder" iff RecorderPresence reports an active
// session.
func (r *Relay) Deposit(callID, fromPeerID, targetPeerID string, msg Message) error {
	if targetPeerID != "" {
		cb := r.callBox(callID, true)
		cb.mu.Lock()
		cb.boxes[targetPeerID] = append(cb.boxes[targetPeerID], entry{msg: msg, at: time.Now()})
		cb.mu.Unlock()
		return nil
	}

	known, ok := r.peers.PeersOf(callID)
	if !ok {
		return ErrCallNotFound
	}

	targets := make([]string, 0, len(known)+1)
	for _, p := range known {
		if p != fromPeerID {
			targets = append(targets, p)
		}
	}
	if r.rec != nil && r.rec.IsRecording(callID) && fromPeerID != RecorderPeerID {
		targets = append(targets, RecorderPeerID)
	}

	cb := r.callBox(callID, true)
	cb.mu.Lock()
	now := time.Now()
	for _, t := range targets {
		cb.boxes[t] = append(cb.boxes[t], entry{msg: msg, at: now})
	}
	cb.mu.Unlock()
	return nil
}

// Drain returns and removes all messages queued for peerID on callID.
// Never blocks, never errors: an unknown call or peer simply has nothing
// queued.
func (r *Relay) Drain(callID, peerID string) []Message {
	cb := r.callBox(callID, false)
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	entries := cb.boxes[peerID]
	if len(entries) == 0 {
		return nil
	}
	delete(cb.boxes, peerID)

	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// Sweep drops messages older than the relay's TTL, then prunes empty peer
// mailboxes and empty call entries. It is meant to run on a fixed-interval
// ticker independent of deposit/drain traffic.
func (r *Relay) Sweep(now time.Time) {
	r.mu.Lock()
	calls := make([]string, 0, len(r.calls))
	for id := range r.calls {
		calls = append(calls, id)
	}
	r.mu.Unlock()

	cutoff := now.Add(-r.ttl)
	var droppedMessages, droppedCalls int

	for _, callID := range calls {
		cb := r.callBox(callID, false)
		if cb == nil {
			continue
		}

		cb.mu.Lock()
		for peerID, entries := range cb.boxes {
			kept := entries[:0]
			for _, e := range entries {
				if e.at.After(cutoff) {
					kept = append(kept, e)
				} else {
					droppedMessages++
				}
			}
			if len(kept) == 0 {
				delete(cb.boxes, peerID)
			} else {
				cb.boxes[peerID] = kept
			}
		}
		empty := len(cb.boxes) == 0
		cb.mu.Unlock()

		if empty {
			r.mu.Lock()
			if stillEmpty := r.calls[callID]; stillEmpty != nil {
				stillEmpty.mu.Lock()
				reallyEmpty := len(stillEmpty.boxes) == 0
				stillEmpty.mu.Unlock()
				if reallyEmpty {
					delete(r.calls, callID)
					droppedCalls++
				}
			}
			r.mu.Unlock()
		}
	}

	if droppedMessages > 0 || droppedCalls > 0 {
		r.logger.Debug("signal relay sweep", "dropped_messages", droppedMessages, "dropped_calls", droppedCalls)
	}
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (r *Relay) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(time.Now())
			}
		}
	}()
}
