// Package directory provides default implementations of the
// coordinator.MemberDirectory and coordinator.GroupSettingsProvider
// capabilities this core treats as external collaborators: group
// membership and per-group settings actually live in the family-space
// backend this core is embedded in, not in this repository.
//
// OpenDirectory/StaticSettings are the "no external service configured"
// fallbacks used by cmd/callcore when run standalone (dev mode, or fronted
// by a reverse proxy that has already done membership enforcement upstream
// of the bearer token). A production deployment wires its own
// implementations of these two interfaces against its membership service
// and passes them into coordinator.New instead.
package directory

import (
	"context"

	"github.com/familyspace/callcore/internal/authctx"
)

// OpenDirectory implements coordinator.MemberDirectory by accepting any
// invitee without a membership lookup.
type OpenDirectory struct{}

// ValidateInvitee always succeeds. A real deployment replaces this with a
// client against its membership service.
func (OpenDirectory) ValidateInvitee(ctx context.Context, groupID, memberID string) error {
	return nil
}

// StaticSettings implements coordinator.GroupSettingsProvider by returning
// the same authctx.GroupSettings for every group.
type StaticSettings struct {
	Settings authctx.GroupSettings
}

// NewStaticSettings builds a StaticSettings with calls and recording
// enabled and no minor/read-only restrictions, the permissive default for
// standalone operation.
func NewStaticSettings() StaticSettings {
	return StaticSettings{Settings: authctx.GroupSettings{
		CallsEnabled:     true,
		RecordingEnabled: true,
	}}
}

// SettingsFor returns the configured settings regardless of groupID.
func (s StaticSettings) SettingsFor(ctx context.Context, groupID string) (authctx.GroupSettings, error) {
	return s.Settings, nil
}
