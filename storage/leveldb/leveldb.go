package leveldb

import (
	"context"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/virtue186/xnode/storage"
)

// Database 基于 goleveldb 的 storage.Database
type Database struct {
	db   *leveldb.DB
	lock *storage.WriterLock
}

// New 打开 path 下的数据库，不存在时创建
func New(path string) (*Database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, wrapErr("open leveldb", err)
	}
	return &Database{db: db, lock: storage.NewWriterLock()}, nil
}

// NewMemory 打开一个内存数据库，用于测试
func NewMemory() (*Database, error) {
	db, err := leveldb.Open(lstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, wrapErr("open memory leveldb", err)
	}
	return &Database{db: db, lock: storage.NewWriterLock()}, nil
}

func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return storage.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return storage.ErrClosed
	case lerrors.IsCorrupted(err):
		return storage.Corrupt("%s: %v", op, err)
	}
	return storage.Unavailable(op, err)
}

func (d *Database) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	return v, wrapErr("get", err)
}

func (d *Database) Has(key []byte) (bool, error) {
	ok, err := d.db.Has(key, nil)
	return ok, wrapErr("has", err)
}

func (d *Database) Put(key, value []byte) error {
	return wrapErr("put", d.db.Put(key, value, nil))
}

func (d *Database) Delete(key []byte) error {
	return wrapErr("delete", d.db.Delete(key, nil))
}

func (d *Database) Seek(prefix []byte) storage.Iterator {
	return &iter{it: d.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

// Begin goleveldb 自身的 OpenTransaction 不支持取消，所以先在 WriterLock 上排队
func (d *Database) Begin(ctx context.Context) (storage.Txn, error) {
	if err := d.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	tr, err := d.db.OpenTransaction()
	if err != nil {
		d.lock.Release()
		return nil, wrapErr("begin", err)
	}
	return &txn{tr: tr, lock: d.lock}, nil
}

func (d *Database) Close() error {
	return wrapErr("close", d.db.Close())
}

type txn struct {
	mu   sync.Mutex
	tr   *leveldb.Transaction
	lock *storage.WriterLock
	done bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	v, err := t.tr.Get(key, nil)
	return v, wrapErr("txn get", err)
}

func (t *txn) Has(key []byte) (bool, error) {
	ok, err := t.tr.Has(key, nil)
	return ok, wrapErr("txn has", err)
}

func (t *txn) Put(key, value []byte) error {
	return wrapErr("txn put", t.tr.Put(key, value, nil))
}

func (t *txn) Delete(key []byte) error {
	return wrapErr("txn delete", t.tr.Delete(key, nil))
}

func (t *txn) Seek(prefix []byte) storage.Iterator {
	return &iter{it: t.tr.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (t *txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxnDone
	}
	t.done = true
	defer t.lock.Release()

	if err := t.tr.Commit(); err != nil {
		t.tr.Discard()
		return wrapErr("commit", err)
	}
	return nil
}

func (t *txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.tr.Discard()
	t.lock.Release()
}

type iter struct {
	it iterator.Iterator
}

func (i *iter) Next() bool { return i.it.Next() }

func (i *iter) Key() []byte { return append([]byte(nil), i.it.Key()...) }

func (i *iter) Value() []byte { return append([]byte(nil), i.it.Value()...) }

func (i *iter) Err() error { return wrapErr("iterate", i.it.Error()) }

func (i *iter) Release() { i.it.Release() }
