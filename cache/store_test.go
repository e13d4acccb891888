package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/workspace"
)

func openStore(t *testing.T, cfg config.CacheConfig) *Store {
	t.Helper()
	root, err := workspace.NewRoot(t.TempDir())
	require.NoError(t, err)
	s, err := Open(root, cfg, nil)
	require.NoError(t, err)
	if s != nil {
		t.Cleanup(func() { s.Close() })
	}
	return s
}

func TestDisabledCacheIsNil(t *testing.T) {
	s := openStore(t, config.CacheConfig{Enabled: false})
	require.Nil(t, s)
	// All operations are no-ops on a nil store.
	s.Put("a.ts", "imports", "sha256:x", []byte("{}"))
	_, ok := s.Get("a.ts", "imports", "sha256:x")
	require.False(t, ok)
	s.Invalidate("a.ts")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t, config.CacheConfig{Enabled: true})
	s.Put("src/a.ts", "imports", "sha256:aa", []byte(`["./b"]`))

	payload, ok := s.Get("src/a.ts", "imports", "sha256:aa")
	require.True(t, ok)
	require.Equal(t, `["./b"]`, string(payload))

	// Stale checksum misses.
	_, ok = s.Get("src/a.ts", "imports", "sha256:bb")
	require.False(t, ok)
}

func TestInvalidateOnChange(t *testing.T) {
	s := openStore(t, config.CacheConfig{Enabled: true})
	s.Put("src/a.ts", "imports", "sha256:aa", []byte("x"))
	s.HandleChanges([]workspace.FileChange{{Path: "src/a.ts", Origin: workspace.OriginApply}})
	_, ok := s.Get("src/a.ts", "imports", "sha256:aa")
	require.False(t, ok)
}

func TestSizeCapEvictsOldest(t *testing.T) {
	s := openStore(t, config.CacheConfig{Enabled: true, MaxSizeBytes: 10})
	s.Put("a", "imports", "c1", []byte("12345678"))
	s.Put("b", "imports", "c2", []byte("12345678"))

	_, okA := s.Get("a", "imports", "c1")
	_, okB := s.Get("b", "imports", "c2")
	require.False(t, okA)
	require.True(t, okB)
}
