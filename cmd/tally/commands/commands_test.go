package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/contracts"
)

func TestMaskPassword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgresql://tally:s3cret@db:5432/tally", "postgresql://tally:***@db:5432/tally"},
		{"postgresql://tally@db:5432/tally", "postgresql://tally@db:5432/tally"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, maskPassword(tt.in))
	}
}

func TestOperator(t *testing.T) {
	actorName, actorRole = "ops", "Super_Admin"
	t.Cleanup(func() { actorName, actorRole = "cli", string(contracts.RoleAdmin) })

	id, err := operator()
	require.NoError(t, err)
	assert.Equal(t, contracts.Identity{UserID: "ops", Role: contracts.RoleSuperAdmin}, id)

	actorRole = "mayor"
	_, err = operator()
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"api", "audit", "flags", "import", "migrate", "publish", "release", "results", "scheduler", "seed", "test-db", "unpublish", "withdraw"}

	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	assert.Subset(t, got, want)
}
