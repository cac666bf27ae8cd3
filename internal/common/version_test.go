package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFullVersion(t *testing.T) {
	full := GetFullVersion()
	assert.Contains(t, full, GetVersion())
	assert.Contains(t, full, "build: "+Build)
	assert.Contains(t, full, "commit: "+GitCommit)
}

func TestLoadVersionFromFile(t *testing.T) {
	original := Version
	t.Cleanup(func() { Version = original })

	dir := t.TempDir()

	// No .version file leaves the compiled-in version untouched
	assert.Equal(t, original, loadVersionFrom(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".version"), []byte("1.2.3\n"), 0644))
	assert.Equal(t, "1.2.3", loadVersionFrom(dir))
	assert.Equal(t, "1.2.3", GetVersion())

	// Blank file is ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".version"), []byte("  \n"), 0644))
	assert.Equal(t, "1.2.3", loadVersionFrom(dir))
}
