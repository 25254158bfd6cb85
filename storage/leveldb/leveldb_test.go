package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/storage/storagetest"
)

func TestMemoryDatabase(t *testing.T) {
	storagetest.RunDatabaseTests(t, func(t *testing.T) storage.Database {
		db, err := NewMemory()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestFileDatabase(t *testing.T) {
	storagetest.RunDatabaseTests(t, func(t *testing.T) storage.Database {
		db, err := New(filepath.Join(t.TempDir(), "index"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestReopenKeepsCommittedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("k"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestClosedDatabase(t *testing.T) {
	db, err := NewMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, storage.ErrClosed)
}
