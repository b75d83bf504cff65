package os_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	tmos "github.com/notesync/notesync/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	dir := filepath.Join(tmp, "config", "nested")
	require.NoError(t, tmos.EnsureDir(dir, 0700))
	require.True(t, tmos.FileExists(dir))

	// idempotent
	require.NoError(t, tmos.EnsureDir(dir, 0700))

	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, []byte{}, 0600))
	require.True(t, tmos.FileExists(file))
}

func TestFileExists(t *testing.T) {
	require.False(t, tmos.FileExists(filepath.Join(t.TempDir(), "missing")))
}
