package auth_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/auth"
)

var (
	governance = common.HexToAddress("0x60")
	second     = common.HexToAddress("0x61")
	strategist = common.HexToAddress("0x57")
	outsider   = common.HexToAddress("0x99")
)

func TestGrantAndRequire(t *testing.T) {
	authority := auth.NewAuthority(governance)

	require.NoError(t, authority.Require(governance, auth.RoleGovernance))
	require.ErrorIs(t, authority.Require(outsider, auth.RoleGovernance), auth.ErrUnauthorized)
	require.ErrorIs(t, authority.Require(governance, auth.RoleStrategist), auth.ErrUnauthorized)

	require.NoError(t, authority.Grant(governance, auth.RoleStrategist, strategist))
	require.True(t, authority.Has(strategist, auth.RoleStrategist))

	// Only governance grants.
	err := authority.Grant(strategist, auth.RoleAutomation, outsider)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRevoke(t *testing.T) {
	authority := auth.NewAuthority(governance)
	require.NoError(t, authority.Grant(governance, auth.RoleStrategist, strategist))

	require.NoError(t, authority.Revoke(governance, auth.RoleStrategist, strategist))
	require.False(t, authority.Has(strategist, auth.RoleStrategist))

	err := authority.Revoke(strategist, auth.RoleStrategist, strategist)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestLastGovernanceMemberCannotBeRevoked(t *testing.T) {
	authority := auth.NewAuthority(governance)

	err := authority.Revoke(governance, auth.RoleGovernance, governance)
	require.Error(t, err)
	require.True(t, authority.Has(governance, auth.RoleGovernance))

	// With a second member seated, the first can step down.
	require.NoError(t, authority.Grant(governance, auth.RoleGovernance, second))
	require.NoError(t, authority.Revoke(second, auth.RoleGovernance, governance))
	require.False(t, authority.Has(governance, auth.RoleGovernance))
	require.True(t, authority.Has(second, auth.RoleGovernance))
}
