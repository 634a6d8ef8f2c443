package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	s := Static{"ACME_TOKEN": "t0k", "EMPTY": ""}
	v, ok, err := s.Lookup(context.Background(), "ACME_TOKEN")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t0k", v)

	_, ok, _ = s.Lookup(context.Background(), "EMPTY")
	require.False(t, ok, "empty values count as missing")
	_, ok, _ = s.Lookup(context.Background(), "NOPE")
	require.False(t, ok)
}

func TestEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{"JOBCRAWLER_SECRET_ACME_API_KEY": "k"}
	e := NewEnv("JOBCRAWLER_SECRET_")
	e.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	v, ok, err := e.Lookup(context.Background(), "acme.api-key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k", v)

	_, ok, _ = e.Lookup(context.Background(), "other")
	require.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ACME_TOKEN: abc\nWORKDAY_PASS: \"p@ss\"\n"), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "p@ss", s["WORKDAY_PASS"])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- just\n- a list\n"), 0o600))
	_, err = LoadFile(bad)
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	s, err = LoadFile(empty)
	require.NoError(t, err)
	require.Empty(t, s)
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("vault sealed")
}

func TestChain(t *testing.T) {
	t.Parallel()

	c := Chain{nil, Static{"A": "from-static"}, Static{"A": "shadowed", "B": "from-second"}}
	v, ok, err := c.Lookup(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "from-static", v)

	v, ok, _ = c.Lookup(context.Background(), "B")
	require.True(t, ok)
	require.Equal(t, "from-second", v)

	_, ok, err = c.Lookup(context.Background(), "C")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = Chain{failingLookup{}}.Lookup(context.Background(), "A")
	require.ErrorContains(t, err, "vault sealed")
}
