// Package storagetest 提供所有 storage.Database 实现都必须通过的一组测试
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/storage"
)

// OpenFunc 为每个子测试打开一个全新的空库
type OpenFunc func(t *testing.T) storage.Database

func RunDatabaseTests(t *testing.T, open OpenFunc) {
	t.Run("BasicOps", func(t *testing.T) { testBasicOps(t, open(t)) })
	t.Run("Seek", func(t *testing.T) { testSeek(t, open(t)) })
	t.Run("TxnAbort", func(t *testing.T) { testTxnAbort(t, open(t)) })
	t.Run("TxnCommit", func(t *testing.T) { testTxnCommit(t, open(t)) })
	t.Run("TxnAtomicVisibility", func(t *testing.T) { testTxnAtomicVisibility(t, open(t)) })
	t.Run("SingleWriter", func(t *testing.T) { testSingleWriter(t, open(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, open(t)) })
}

func testBasicOps(t *testing.T, db storage.Database) {
	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	has, err := db.Has([]byte("missing"))
	assert.Nil(t, err)
	assert.False(t, has)

	require.NoError(t, db.Put([]byte("k"), []byte("v1")))
	v, err := db.Get([]byte("k"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, db.Put([]byte("k"), []byte("v2")))
	v, err = db.Get([]byte("k"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("v2"), v)

	has, err = db.Has([]byte("k"))
	assert.Nil(t, err)
	assert.True(t, has)

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 删除不存在的键不是错误
	assert.Nil(t, db.Delete([]byte("k")))
}

func collect(t *testing.T, it storage.Iterator) map[string]string {
	defer it.Release()
	kv := map[string]string{}
	var last string
	for it.Next() {
		k := string(it.Key())
		if len(kv) > 0 {
			assert.Less(t, last, k, "keys must be ordered")
		}
		kv[k] = string(it.Value())
		last = k
	}
	require.NoError(t, it.Err())
	return kv
}

func testSeek(t *testing.T, db storage.Database) {
	for _, k := range []string{"a|2", "b|1", "a|1", "a|3", "ab", "c"} {
		require.NoError(t, db.Put([]byte(k), []byte("val-"+k)))
	}

	it := db.Seek([]byte("a|"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	it.Release()
	assert.Equal(t, []string{"a|1", "a|2", "a|3"}, keys)

	// 遍历结束后不再产生数据
	assert.False(t, it.Next())

	assert.Equal(t, map[string]string{"b|1": "val-b|1"}, collect(t, db.Seek([]byte("b|"))))
	assert.Empty(t, collect(t, db.Seek([]byte("z"))))
	assert.Len(t, collect(t, db.Seek(nil)), 6)
}

func testTxnAbort(t *testing.T, db storage.Database) {
	txn, err := db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("A"), []byte("1")))
	require.NoError(t, txn.Put([]byte("B"), []byte("2")))

	// 事务内可见，事务外不可见
	v, err := txn.Get([]byte("A"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("1"), v)
	_, err = db.Get([]byte("A"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	txn.Abort()
	txn.Abort()

	for _, k := range []string{"A", "B"} {
		_, err := db.Get([]byte(k))
		assert.ErrorIs(t, err, storage.ErrNotFound, k)
	}
	assert.ErrorIs(t, txn.Commit(), storage.ErrTxnDone)
}

func testTxnCommit(t *testing.T, db storage.Database) {
	require.NoError(t, db.Put([]byte("C"), []byte("old")))

	txn, err := db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("A"), []byte("1")))
	require.NoError(t, txn.Put([]byte("B"), []byte("2")))
	require.NoError(t, txn.Delete([]byte("C")))

	has, err := txn.Has([]byte("C"))
	assert.Nil(t, err)
	assert.False(t, has)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, collect(t, txn.Seek(nil)))

	require.NoError(t, txn.Commit())
	assert.ErrorIs(t, txn.Commit(), storage.ErrTxnDone)

	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, collect(t, db.Seek(nil)))
}

// testTxnAtomicVisibility 并发读者要么看到 A、B 都不存在，要么都存在
func testTxnAtomicVisibility(t *testing.T, db storage.Database) {
	const rounds = 50
	var (
		wg      sync.WaitGroup
		stop    atomic.Bool
		partial atomic.Int64
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			it := db.Seek([]byte("pair|"))
			n := 0
			for it.Next() {
				n++
			}
			it.Release()
			if n == 1 {
				partial.Add(1)
			}
		}
	}()

	for i := 0; i < rounds; i++ {
		txn, err := db.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, txn.Put([]byte("pair|A"), []byte(fmt.Sprint(i))))
		require.NoError(t, txn.Put([]byte("pair|B"), []byte(fmt.Sprint(i))))
		if i%2 == 0 {
			txn.Abort()
			continue
		}
		require.NoError(t, txn.Commit())

		txn, err = db.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, txn.Delete([]byte("pair|A")))
		require.NoError(t, txn.Delete([]byte("pair|B")))
		require.NoError(t, txn.Commit())
	}
	stop.Store(true)
	wg.Wait()

	assert.Equal(t, int64(0), partial.Load())
}

func testSingleWriter(t *testing.T, db storage.Database) {
	first, err := db.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = db.Begin(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	started := make(chan storage.Txn, 1)
	go func() {
		second, err := db.Begin(context.Background())
		if err != nil {
			close(started)
			return
		}
		started <- second
	}()

	select {
	case <-started:
		t.Fatal("second writer started while first is open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Put([]byte("k"), []byte("first")))
	require.NoError(t, first.Commit())

	select {
	case second, ok := <-started:
		require.True(t, ok)
		require.NoError(t, second.Put([]byte("k"), []byte("second")))
		require.NoError(t, second.Commit())
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never started")
	}

	v, err := db.Get([]byte("k"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("second"), v)
}

func testUpdate(t *testing.T, db storage.Database) {
	failure := errors.New("boom")
	err := storage.Update(context.Background(), db, func(txn storage.Txn) error {
		if err := txn.Put([]byte("x"), []byte("1")); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)
	has, err := db.Has([]byte("x"))
	assert.Nil(t, err)
	assert.False(t, has)

	err = storage.Update(context.Background(), db, func(txn storage.Txn) error {
		return txn.Put([]byte("x"), []byte("1"))
	})
	assert.Nil(t, err)
	has, err = db.Has([]byte("x"))
	assert.Nil(t, err)
	assert.True(t, has)
}
