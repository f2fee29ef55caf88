package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cryptYAML(fields string) string {
	return "key: " + testKey + "\nfields:\n" + fields
}

func TestFileSnapshotProviderInitialLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crypt.yaml", cryptYAML("  - path: ssn\n    mode: deterministic\n"))

	p, err := NewFileSnapshotProvider(path)
	require.NoError(t, err)
	defer p.Close()

	snap := p.CurrentSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Generation)
	assert.Equal(t, p.Path(), snap.Source)
	assert.False(t, snap.LoadedAt.IsZero())

	_, ok := snap.Crypt.Field("ssn")
	assert.True(t, ok)
}

func TestFileSnapshotProviderInitialLoadFailure(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSnapshotProvider(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	empty := writeFile(t, dir, "empty.yaml", "")
	_, err = NewFileSnapshotProvider(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestFileSnapshotProviderReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crypt.yaml", cryptYAML("  - path: ssn\n"))

	var hookCalls atomic.Int32
	p, err := NewFileSnapshotProvider(path, WithReloadHook(func(int64, error) {
		hookCalls.Add(1)
	}))
	require.NoError(t, err)

	first := p.CurrentSnapshot()

	require.NoError(t, os.WriteFile(path, []byte(cryptYAML("  - path: email\n    mode: hash\n")), 0o600))
	require.NoError(t, p.Reload())

	second := p.CurrentSnapshot()
	assert.Equal(t, int64(2), second.Generation)
	_, ok := second.Crypt.Field("email")
	assert.True(t, ok)

	// Published snapshots are never mutated in place.
	_, ok = first.Crypt.Field("ssn")
	assert.True(t, ok)
	_, ok = first.Crypt.Field("email")
	assert.False(t, ok)

	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestFileSnapshotProviderReloadFailureKeepsSnapshot(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crypt.yaml", cryptYAML("  - path: ssn\n"))

	var lastErr atomic.Value
	p, err := NewFileSnapshotProvider(path, WithReloadHook(func(_ int64, err error) {
		if err != nil {
			lastErr.Store(err)
		}
	}))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("key: nope\n"), 0o600))
	require.Error(t, p.Reload())

	assert.Equal(t, int64(1), p.CurrentSnapshot().Generation)
	assert.NotNil(t, lastErr.Load())
}

func TestFileSnapshotProviderReloadsDoNotOverlap(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crypt.yaml", cryptYAML("  - path: ssn\n"))

	p, err := NewFileSnapshotProvider(path)
	require.NoError(t, err)

	var active, maxActive atomic.Int32
	p.readFile = func(name string) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			seen := maxActive.Load()
			if n <= seen || maxActive.CompareAndSwap(seen, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return os.ReadFile(name)
	}

	const reloads = 8
	var wg sync.WaitGroup
	for range reloads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Reload())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int64(reloads+1), p.CurrentSnapshot().Generation)
}

func TestFileSnapshotProviderWatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crypt.yaml", cryptYAML("  - path: ssn\n"))

	p, err := NewFileSnapshotProvider(path, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.Watch())
	require.NoError(t, p.Watch())
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte(cryptYAML("  - path: email\n")), 0o600))

	require.Eventually(t, func() bool {
		_, ok := p.CurrentSnapshot().Crypt.Field("email")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestSnapshotHolder(t *testing.T) {
	h := NewSnapshotHolder(nil)
	assert.Nil(t, h.CurrentSnapshot())

	s := &Snapshot{Generation: 7}
	h.Store(s)
	assert.Same(t, s, h.CurrentSnapshot())
}
