package authctx

import "testing"

func TestDefaultPolicyOwnerAlwaysAdmin(t *testing.T) {
	caps := DefaultPolicy{}.Can(RoleOwner, GroupSettings{CallsEnabled: true, RecordingEnabled: true})
	if !caps.IsAdmin || !caps.CanUseCalls || !caps.CanRecord {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
}

func TestDefaultPolicyCallsDisabledBlocksEverything(t *testing.T) {
	caps := DefaultPolicy{}.Can(RoleAdult, GroupSettings{CallsEnabled: false, RecordingEnabled: true})
	if caps.CanUseCalls || caps.CanRecord {
		t.Fatalf("expected calls disabled to block use/record, got %+v", caps)
	}
}

func TestDefaultPolicyMinorNeverRecords(t *testing.T) {
	caps := DefaultPolicy{}.Can(RoleMinor, GroupSettings{CallsEnabled: true, RecordingEnabled: true})
	if caps.CanRecord {
		t.Fatal("minors must never be granted recording capability")
	}
	if !caps.CanUseCalls {
		t.Fatal("minors should be able to use calls when not restricted")
	}
}

func TestDefaultPolicyMinorRestricted(t *testing.T) {
	caps := DefaultPolicy{}.Can(RoleMinor, GroupSettings{CallsEnabled: true, MinorRestricted: true})
	if caps.CanUseCalls {
		t.Fatal("restricted minors must not be able to use calls")
	}
	if !caps.CanSee {
		t.Fatal("restricted minors should still see call state")
	}
}

func TestDefaultPolicyViewerSeeOnly(t *testing.T) {
	caps := DefaultPolicy{}.Can(RoleViewer, GroupSettings{CallsEnabled: true, RecordingEnabled: true})
	if caps.CanUseCalls || caps.CanRecord || caps.IsAdmin {
		t.Fatalf("viewer should only see, got %+v", caps)
	}
	if !caps.CanSee {
		t.Fatal("viewer should be able to see")
	}
}

func TestDefaultPolicyUnknownRole(t *testing.T) {
	caps := DefaultPolicy{}.Can("bogus", GroupSettings{CallsEnabled: true})
	if caps.CanSee || caps.CanUseCalls || caps.CanRecord || caps.IsAdmin {
		t.Fatalf("unknown role should get zero capabilities, got %+v", caps)
	}
}
