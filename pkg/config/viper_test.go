package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateExplicit(t *testing.T) {
	path, err := Locate("/tmp/custom.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", path)
}

func TestLocateSearchPaths(t *testing.T) {
	dir := t.TempDir()
	orig := SearchPaths
	t.Cleanup(func() { SearchPaths = orig })

	SearchPaths = []string{dir}
	path, err := Locate("")
	require.NoError(t, err)
	assert.Empty(t, path, "no file means defaults")

	want := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(want, []byte("server:\n  port: 9090\n"), 0o600))
	path, err = Locate("")
	require.NoError(t, err)
	assert.Equal(t, want, path)

	require.NoError(t, os.WriteFile(want, []byte("server: [unclosed\n"), 0o600))
	_, err = Locate("")
	require.Error(t, err)
}
