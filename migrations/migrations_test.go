package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestInit_SeedsDefaultSettings(t *testing.T) {
	data, err := fs.ReadFile(FS, "0001_init.up.sql")
	require.NoError(t, err)
	for _, key := range []string{
		"minimum_advance_hours",
		"modification_deadline_hours",
		"auto_cancel_timeout_hours",
		"work_time_start",
		"work_time_end",
	} {
		assert.Contains(t, string(data), "'"+key+"'")
	}
}
