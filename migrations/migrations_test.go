package migrations

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(FS, ".")
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)

	var versions []uint
	for {
		versions = append(versions, version)

		up, _, err := src.ReadUp(version)
		require.NoError(t, err, "missing up migration for %d", version)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		_ = up.Close()
		assert.NotEmpty(t, body)

		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "missing down migration for %d", version)
		_ = down.Close()

		version, err = src.Next(version)
		if err != nil {
			break
		}
	}
	assert.Equal(t, []uint{1, 2}, versions)
}

func TestSlotIndexIsPartial(t *testing.T) {
	body, err := FS.ReadFile("0001_create_appointments.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "WHERE status NOT IN ('CANCELLED', 'COMPLETED')")
}
