package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("k", []byte("v")))
	got, err := m.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, m.Delete("k"))
	_, err = m.Get("k")
	require.Error(t, err)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	f1 := NewFileStore(path)
	require.NoError(t, f1.Put(KeyCurrentID, []byte("abc123")))

	f2 := NewFileStore(path)
	got, err := f2.Get(KeyCurrentID)
	require.NoError(t, err)
	require.Equal(t, []byte("abc123"), got)
}

func TestFileStoreGetMissingKeyReturnsNotFound(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "secrets.json"))
	_, err := f.Get("nope")
	require.Error(t, err)
}

func TestFileStoreDeleteRemovesKey(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "secrets.json"))
	require.NoError(t, f.Put("k", []byte("v")))
	require.NoError(t, f.Delete("k"))
	_, err := f.Get("k")
	require.Error(t, err)
}
