package ice

import "testing"

func TestServersIncludesStunOnly(t *testing.T) {
	p := New(Config{StunServers: []string{"stun:stun.example.com:19302"}})
	servers := p.Servers()
	if len(servers) != 1 {
		t.Fatalf("len(Servers()) = %d, want 1", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:19302" {
		t.Fatalf("unexpected STUN URL: %v", servers[0].URLs)
	}
}

func TestServersIncludesTurnWhenConfigured(t *testing.T) {
	p := New(Config{
		StunServers:    []string{"stun:stun.example.com:19302"},
		TurnURL:        "turn:turn.example.com:3478",
		TurnUser:       "bob",
		TurnCredential: "secret",
	})
	servers := p.Servers()
	if len(servers) != 2 {
		t.Fatalf("len(Servers()) = %d, want 2", len(servers))
	}
	turn := servers[1]
	if turn.Username != "bob" || turn.Credential != "secret" {
		t.Fatalf("unexpected TURN entry: %+v", turn)
	}
}

func TestNewPanicsWithoutStun(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when no STUN server is configured")
		}
	}()
	New(Config{})
}
