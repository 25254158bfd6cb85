package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/virtue186/xnode/storage"
)

// Database 基于 BadgerDB 的 storage.Database。
// 所有写入（包括事务外的 Put/Delete）都经过同一把 WriterLock，不会出现事务冲突
type Database struct {
	db   *badger.DB
	lock *storage.WriterLock
}

// Config holds configuration for BadgerDB
type Config struct {
	DataDir  string
	InMemory bool
}

func New(config *Config) (*Database, error) {
	var opts badger.Options
	switch {
	case config.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case config.DataDir == "":
		return nil, fmt.Errorf("DataDir is required")
	default:
		opts = badger.DefaultOptions(config.DataDir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Unavailable("open badger", err)
	}
	return &Database{db: db, lock: storage.NewWriterLock()}, nil
}

// NewMemory 打开一个内存数据库，用于测试
func NewMemory() (*Database, error) {
	return New(&Config{InMemory: true})
}

func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrClosed
	case errors.Is(err, badger.ErrDiscardedTxn):
		return storage.ErrTxnDone
	case errors.Is(err, badger.ErrEmptyKey):
		return fmt.Errorf("%s: %w", op, err)
	}
	return storage.Unavailable(op, err)
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (d *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = getValue(txn, key)
		return err
	})
	return value, wrapErr("get", err)
}

func (d *Database) Has(key []byte) (bool, error) {
	_, err := d.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Database) update(op string, fn func(txn *badger.Txn) error) error {
	if err := d.lock.Acquire(context.Background()); err != nil {
		return err
	}
	defer d.lock.Release()
	return wrapErr(op, d.db.Update(fn))
}

func (d *Database) Put(key, value []byte) error {
	return d.update("put", func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (d *Database) Delete(key []byte) error {
	return d.update("delete", func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Seek 在一个只读事务的快照上遍历，Release 时结束该事务
func (d *Database) Seek(prefix []byte) storage.Iterator {
	txn := d.db.NewTransaction(false)
	return newIter(txn, prefix, true)
}

func (d *Database) Begin(ctx context.Context) (storage.Txn, error) {
	if err := d.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	return &txn{txn: d.db.NewTransaction(true), lock: d.lock}, nil
}

func (d *Database) Close() error {
	return wrapErr("close", d.db.Close())
}

// RunGC runs BadgerDB value log garbage collection
func (d *Database) RunGC(discardRatio float64) error {
	err := d.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

type txn struct {
	mu   sync.Mutex
	txn  *badger.Txn
	lock *storage.WriterLock
	done bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	v, err := getValue(t.txn, key)
	return v, wrapErr("txn get", err)
}

func (t *txn) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *txn) Put(key, value []byte) error {
	// badger 在 Commit 前持有 key/value 的引用
	return wrapErr("txn put", t.txn.Set(bytes.Clone(key), bytes.Clone(value)))
}

func (t *txn) Delete(key []byte) error {
	return wrapErr("txn delete", t.txn.Delete(bytes.Clone(key)))
}

func (t *txn) Seek(prefix []byte) storage.Iterator {
	return newIter(t.txn, prefix, false)
}

func (t *txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return storage.ErrTxnDone
	}
	t.done = true
	defer t.lock.Release()
	return wrapErr("commit", t.txn.Commit())
}

func (t *txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
	t.lock.Release()
}

type iter struct {
	txn      *badger.Txn
	it       *badger.Iterator
	prefix   []byte
	ownsTxn  bool
	started  bool
	released bool
	key      []byte
	value    []byte
	err      error
}

func newIter(txn *badger.Txn, prefix []byte, ownsTxn bool) *iter {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	return &iter{
		txn:     txn,
		it:      txn.NewIterator(opts),
		prefix:  prefix,
		ownsTxn: ownsTxn,
	}
}

func (i *iter) Next() bool {
	if i.released || i.err != nil {
		return false
	}
	if !i.started {
		i.started = true
		i.it.Seek(i.prefix)
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.prefix) {
		i.key, i.value = nil, nil
		return false
	}
	item := i.it.Item()
	i.key = item.KeyCopy(nil)
	if i.value, i.err = item.ValueCopy(nil); i.err != nil {
		i.err = wrapErr("iterate", i.err)
		return false
	}
	return true
}

func (i *iter) Key() []byte   { return i.key }
func (i *iter) Value() []byte { return i.value }
func (i *iter) Err() error    { return i.err }

func (i *iter) Release() {
	if i.released {
		return
	}
	i.released = true
	i.it.Close()
	if i.ownsTxn {
		i.txn.Discard()
	}
}
