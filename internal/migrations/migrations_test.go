package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	entries, err := fs.ReadDir(".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var sawUp, sawDown bool
	for _, e := range entries {
		data, err := fs.ReadFile(e.Name())
		require.NoError(t, err)
		require.NotEmpty(t, data)

		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			sawUp = true
			require.Contains(t, string(data), "CREATE TABLE")
		case strings.HasSuffix(e.Name(), ".down.sql"):
			sawDown = true
			require.Contains(t, string(data), "DROP TABLE")
		}
	}
	require.True(t, sawUp, "expected an .up.sql migration")
	require.True(t, sawDown, "expected a matching .down.sql migration")
}
