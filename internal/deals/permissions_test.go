package deals

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOf(t *testing.T) {
	d := newTestDeal()
	assert.Equal(t, RolePrimary, RoleOf(primaryAgentID, d))
	assert.Equal(t, RoleSecondary, RoleOf(secondaryAgentID, d))
	assert.Equal(t, RoleNone, RoleOf(outsiderID, d))
	assert.Equal(t, RoleNone, RoleOf(0, d))
	assert.Equal(t, RoleNone, RoleOf(primaryAgentID, nil))

	d.Agents.Secondary = nil
	assert.Equal(t, RoleNone, RoleOf(secondaryAgentID, d))
}

func TestPermissionTableIsTotal(t *testing.T) {
	secondaryAllowed := map[Capability]bool{
		CapViewAll:           true,
		CapDownloadDocuments: true,
		CapAddNotes:          true,
		CapSendMessages:      true,
	}
	require.Len(t, Capabilities(), 9)
	for _, c := range Capabilities() {
		assert.NotEqual(t, "unknown", c.String())
		assert.True(t, RolePrimary.Allowed(c), c.String())
		assert.False(t, RoleNone.Allowed(c), c.String())
		assert.Equal(t, secondaryAllowed[c], RoleSecondary.Allowed(c), c.String())
	}
	assert.False(t, Role(9).Allowed(CapEditDeal))
	assert.False(t, RolePrimary.Allowed(Capability(42)))
}

func TestTerminalOverlayDeniesMutations(t *testing.T) {
	for _, status := range []Status{StatusCancelled, StatusCompleted} {
		d := newTestDeal()
		d.Lifecycle.Status = status
		set := Permissions(primaryAgentID, d)
		assert.Equal(t, RolePrimary, set.Role)
		for _, c := range Capabilities() {
			assert.Equal(t, !c.Mutating(), set.Has(c), "%s %s", status, c)
		}

		err := ValidatePermission(primaryAgentID, d, CapUpdatePayments)
		var denied *PermissionDeniedError
		require.True(t, errors.As(err, &denied))
		assert.True(t, denied.Terminal)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	}
}

func TestValidatePermissionExplains(t *testing.T) {
	d := newTestDeal()
	err := ValidatePermission(secondaryAgentID, d, CapProgressStage)
	var denied *PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, CapProgressStage, denied.Capability)
	assert.Equal(t, RoleSecondary, denied.Role)
	assert.False(t, denied.Terminal)
	assert.Contains(t, err.Error(), "progress stage")
	assert.NotErrorIs(t, err, ErrAlreadyTerminal)

	assert.NoError(t, ValidatePermission(secondaryAgentID, d, CapAddNotes))
	assert.False(t, CheckPermission(outsiderID, d, CapViewAll))
}

func TestPermissionSetNames(t *testing.T) {
	names := Permissions(secondaryAgentID, newTestDeal()).Names()
	assert.Len(t, names, 9)
	assert.True(t, names["add notes"])
	assert.False(t, names["close/cancel deal"])
	assert.False(t, PermissionSet{}.Has(Capability(-1)))
}
