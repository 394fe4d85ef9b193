package repositories

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_StaffRole_Set_And_Overwrite(t *testing.T) {
	req := require.New(t)
	repository := NewGuildConfigRepository(openTestDB(t), slog.Default())

	_, found, err := repository.StaffRole("guild-1")
	req.NoError(err)
	req.False(found)

	req.NoError(repository.SetStaffRole("guild-1", "Moderators"))

	role, found, err := repository.StaffRole("guild-1")
	req.NoError(err)
	req.True(found)
	req.Equal("Moderators", role)

	// Setting again replaces the previous role.
	req.NoError(repository.SetStaffRole("guild-1", "Support Team"))
	role, _, err = repository.StaffRole("guild-1")
	req.NoError(err)
	req.Equal("Support Team", role)

	// Guilds do not share configuration.
	_, found, err = repository.StaffRole("guild-2")
	req.NoError(err)
	req.False(found)
}
