package storage

import (
	"context"
)

// Reader 只读访问。Get 找不到时返回 ErrNotFound
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// Seek 按键序遍历所有以 prefix 开头的键值对
	Seek(prefix []byte) Iterator
}

type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Database 有序的字节键值库。
// 事务外的读只能看到已提交的数据；同一时间最多一个写事务，
// 在持有写事务的 goroutine 中直接调用 Put/Delete 会死锁
type Database interface {
	Reader
	Writer
	// Begin 开启写事务，已有写事务时等待，直到 ctx 结束
	Begin(ctx context.Context) (Txn, error)
	Close() error
}

// Txn 事务内的写在 Commit 前对外不可见，事务内的读能看到自己的写。
// Commit 前必须释放事务内打开的 Iterator
type Txn interface {
	Reader
	Writer
	Commit() error
	// Abort 丢弃所有写入，对已结束的事务调用无效果
	Abort()
}

// Iterator 惰性遍历，遍历结束后不能重来。Key/Value 返回的切片归调用方所有
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Release()
}

// Update 在一个写事务中执行 fn，fn 返回错误时回滚
func Update(ctx context.Context, db Database, fn func(txn Txn) error) error {
	txn, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// WriterLock 保证同一个库上只有一个写者，等待时可以被 ctx 打断
type WriterLock struct {
	sem chan struct{}
}

func NewWriterLock() *WriterLock {
	return &WriterLock{sem: make(chan struct{}, 1)}
}

func (l *WriterLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *WriterLock) Release() {
	<-l.sem
}

// EmptyIterator 直接返回 err 的迭代器
type EmptyIterator struct {
	err error
}

func NewEmptyIterator(err error) *EmptyIterator { return &EmptyIterator{err: err} }

func (it *EmptyIterator) Next() bool    { return false }
func (it *EmptyIterator) Key() []byte   { return nil }
func (it *EmptyIterator) Value() []byte { return nil }
func (it *EmptyIterator) Err() error    { return it.err }
func (it *EmptyIterator) Release()      {}
