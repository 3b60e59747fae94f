package authctx

// GroupSettings carries the subset of a family group's configuration that
// gates call-related capabilities. It is supplied by the group-management
// system this core treats as an external collaborator.
type GroupSettings struct {
	CallsEnabled     bool
	RecordingEnabled bool
	MinorRestricted  bool // when true, minors get a reduced capability set
	ReadOnly         bool // group frozen; no new calls may be initiated regardless of role
}

// Capabilities is the resolved set of call-related actions a caller may
// perform, computed from their role and the owning group's settings.
type Capabilities struct {
	CanSee      bool
	CanUseCalls bool
	CanRecord   bool
	IsAdmin     bool
}

// Policy computes Capabilities for a role within a group. Implementations
// must be pure functions of their inputs so CallCoordinator can be tested
// without a live settings backend. RecorderCoordinator does not consult a
// Policy.
type Policy interface {
	Can(role string, settings GroupSettings) Capabilities
}

// Known roles. New roles can be added to DefaultPolicy.Can without
// touching any code that depends on Policy.
const (
	RoleOwner  = "owner"
	RoleAdult  = "adult"
	RoleMinor  = "minor"
	RoleViewer = "viewer"
)

// DefaultPolicy is a data-driven Policy covering the standard family-group
// role set.
type DefaultPolicy struct{}

// Can implements Policy.
func (DefaultPolicy) Can(role string, settings GroupSettings) Capabilities {
	switch role {
	case RoleOwner:
		return Capabilities{
			CanSee:      true,
			CanUseCalls: settings.CallsEnabled,
			CanRecord:   settings.CallsEnabled && settings.RecordingEnabled,
			IsAdmin:     true,
		}
	case RoleAdult:
		return Capabilities{
			CanSee:      true,
			CanUseCalls: settings.CallsEnabled,
			CanRecord:   settings.CallsEnabled && settings.RecordingEnabled,
			IsAdmin:     false,
		}
	case RoleMinor:
		if settings.MinorRestricted {
			return Capabilities{CanSee: true, CanUseCalls: false, CanRecord: false}
		}
		return Capabilities{
			CanSee:      true,
			CanUseCalls: settings.CallsEnabled,
			CanRecord:   false,
		}
	case RoleViewer:
		return Capabilities{CanSee: true}
	default:
		return Capabilities{}
	}
}
