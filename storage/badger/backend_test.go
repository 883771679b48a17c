package badger

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/policyrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
	assert.Nil(t, backend)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackendUpdate(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	t.Run("commits", func(t *testing.T) {
		err := backend.Update(func(tx *badger.Txn) error {
			return tx.Set([]byte("k"), []byte("v"))
		})
		require.NoError(t, err)

		err = backend.View(func(tx *badger.Txn) error {
			item, err := tx.Get([]byte("k"))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				assert.Equal(t, "v", string(val))
				return nil
			})
		})
		require.NoError(t, err)
	})

	t.Run("returns callback errors without retrying", func(t *testing.T) {
		var calls atomic.Int32
		boom := errors.New("boom")
		err := backend.Update(func(tx *badger.Txn) error {
			calls.Add(1)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("retries conflicts", func(t *testing.T) {
		var calls atomic.Int32
		err := backend.Update(func(tx *badger.Txn) error {
			if calls.Add(1) < 3 {
				return badger.ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after too many conflicts", func(t *testing.T) {
		err := backend.Update(func(tx *badger.Txn) error {
			return badger.ErrConflict
		})
		assert.ErrorIs(t, err, storage.ErrTransactionFailed)
	})
}

func TestGetSequence(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	seq, err := backend.GetSequence("test_sequence")
	require.NoError(t, err)
	require.NotNil(t, seq)
	defer seq.Release()

	// Get sequential IDs
	id1, err := seq.Next()
	require.NoError(t, err)

	id2, err := seq.Next()
	require.NoError(t, err)

	// IDs should be sequential
	assert.Greater(t, id2, id1)
}
