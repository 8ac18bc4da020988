package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasDefaults(t *testing.T) {
	c := New("")
	assert.Equal(t, DefaultTCPAddr, c.TCPAddr)
	assert.Equal(t, DefaultDiscoveryGroup, c.DiscoveryGroup)
	assert.Equal(t, DefaultDiscoveryPort, c.DiscoveryPort)
	assert.Equal(t, DefaultRoot, c.Root)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, c.Load())
	assert.Equal(t, DefaultTCPAddr, c.TCPAddr)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.json")
	c := New(path)
	c.Root = "/srv/chat"
	c.TCPAddr = ":7000"
	require.NoError(t, c.Save())

	loaded := New(path)
	require.NoError(t, loaded.Load())
	assert.Equal(t, "/srv/chat", loaded.Root)
	assert.Equal(t, ":7000", loaded.TCPAddr)
	// Fields absent from nothing -- DiscoveryGroup was persisted too.
	assert.Equal(t, DefaultDiscoveryGroup, loaded.DiscoveryGroup)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	c := New("")
	snap := c.Snapshot()
	c.Root = "/changed"
	assert.NotEqual(t, c.Root, snap.Root)
}
