package signaling

import (
	"log/slog"
	"testing"
	"time"
)

type staticPeers struct {
	peers map[string][]string
}

func (s staticPeers) PeersOf(callID string) ([]string, bool) {
	p, ok := s.peers[callID]
	return p, ok
}

type staticRecorder struct{ active map[string]bool }

func (s staticRecorder) IsRecording(callID string) bool { return s.active[callID] }

func newTestRelay(peers map[string][]string, recording map[string]bool) *Relay {
	return New(5*time.Minute, staticPeers{peers: peers}, staticRecorder{active: recording}, slog.Default())
}

// Scenario 4: signal routing with a recorder peer.
func TestBroadcastDepositIncludesRecorderWhenActive(t *testing.T) {
	relay := newTestRelay(
		map[string][]string{"call-1": {"a", "b"}},
		map[string]bool{"call-1": true},
	)

	err := relay.Deposit("call-1", "a", "", Message{Type: TypeOffer, FromPeerID: "a", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bMsgs := relay.Drain("call-1", "b")
	if len(bMsgs) != 1 {
		t.Fatalf("b mailbox = %d messages, want 1", len(bMsgs))
	}

	recMsgs := relay.Drain("call-1", RecorderPeerID)
	if len(recMsgs) != 1 {
		t.Fatalf("recorder mailbox = %d messages, want 1", len(recMsgs))
	}

	aMsgs := relay.Drain("call-1", "a")
	if len(aMsgs) != 0 {
		t.Fatalf("a mailbox = %d messages, want 0 (sender excluded)", len(aMsgs))
	}
}

func TestBroadcastDepositExcludesRecorderWhenInactive(t *testing.T) {
	relay := newTestRelay(
		map[string][]string{"call-1": {"a", "b"}},
		map[string]bool{},
	)

	if err := relay.Deposit("call-1", "a", "", Message{Type: TypeOffer}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if msgs := relay.Drain("call-1", RecorderPeerID); len(msgs) != 0 {
		t.Fatalf("recorder mailbox = %d messages, want 0", len(msgs))
	}
}

func TestTargetedDepositOnlyReachesTarget(t *testing.T) {
	relay := newTestRelay(map[string][]string{"call-1": {"a", "b"}}, nil)

	if err := relay.Deposit("call-1", "a", "b", Message{Type: TypeAnswer}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if msgs := relay.Drain("call-1", "b"); len(msgs) != 1 {
		t.Fatalf("b mailbox = %d, want 1", len(msgs))
	}
	if msgs := relay.Drain("call-1", "a"); len(msgs) != 0 {
		t.Fatalf("a mailbox = %d, want 0", len(msgs))
	}
}

func TestDepositUnknownCallReturnsCallNotFound(t *testing.T) {
	relay := newTestRelay(map[string][]string{}, nil)
	err := relay.Deposit("missing-call", "a", "", Message{Type: TypeOffer})
	if err != ErrCallNotFound {
		t.Fatalf("err = %v, want ErrCallNotFound", err)
	}
}

func TestDrainIsAtMostOnce(t *testing.T) {
	relay := newTestRelay(map[string][]string{"call-1": {"a", "b"}}, nil)
	if err := relay.Deposit("call-1", "a", "b", Message{Type: TypeOffer}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	first := relay.Drain("call-1", "b")
	if len(first) != 1 {
		t.Fatalf("first drain = %d messages, want 1", len(first))
	}
	second := relay.Drain("call-1", "b")
	if len(second) != 0 {
		t.Fatalf("second drain = %d messages, want 0 (messages are at-most-once)", len(second))
	}
}

// Scenario 5: TTL eviction.
func TestSweepEvictsExpiredMessages(t *testing.T) {
	relay := New(5*time.Minute, staticPeers{peers: map[string][]string{"call-1": {"a", "b"}}}, nil, slog.Default())

	t0 := time.Unix(0, 0)
	cb := relay.callBox("call-1", true)
	cb.mu.Lock()
	cb.boxes["b"] = []entry{{msg: Message{Type: TypeOffer}, at: t0}}
	cb.mu.Unlock()

	relay.Sweep(t0.Add(301 * time.Second))

	if msgs := relay.Drain("call-1", "b"); len(msgs) != 0 {
		t.Fatalf("drain after sweep past TTL = %d messages, want 0", len(msgs))
	}
}

func TestSweepPrunesEmptyCallEntries(t *testing.T) {
	relay := New(time.Minute, staticPeers{peers: map[string][]string{"call-1": {"a"}}}, nil, slog.Default())

	t0 := time.Unix(0, 0)
	cb := relay.callBox("call-1", true)
	cb.mu.Lock()
	cb.boxes["a"] = []entry{{msg: Message{Type: TypeOffer}, at: t0}}
	cb.mu.Unlock()

	relay.Sweep(t0.Add(2 * time.Minute))

	relay.mu.Lock()
	_, exists := relay.calls["call-1"]
	relay.mu.Unlock()
	if exists {
		t.Fatal("expected empty call entry to be pruned after sweep")
	}
}
