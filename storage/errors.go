package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable 底层 I/O 失败，调用方可以退避后重试
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrCorruptRecord 数据与记录位置或文件实际大小不符，不可重试
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrFileFull 当前文件剩余容量不足，调用方需要换到下一个文件号
	ErrFileFull = errors.New("record file full")
	// ErrRecordTooLarge 记录连一个空文件都放不下
	ErrRecordTooLarge = errors.New("record larger than file capacity")

	ErrNotFound = errors.New("key not found")
	ErrTxnDone  = errors.New("transaction already committed or aborted")
	ErrClosed   = errors.New("storage closed")
)

// Unavailable 把底层错误包装为 ErrStorageUnavailable，同时保留原始错误
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Corrupt 构造一个 ErrCorruptRecord
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptRecord, fmt.Sprintf(format, args...))
}

// IsRetryable 只有 ErrStorageUnavailable 值得重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
