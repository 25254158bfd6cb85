package wire

import (
	"errors"
	"fmt"
)

// 信封层错误。前四种都属于 framing 错误，调用方需要能区分
// "数据还没读全" 和 "数据已损坏"
var (
	ErrMalformedHeader  = errors.New("malformed message header")
	ErrUnknownMagic     = errors.New("unknown network magic")
	ErrLengthMismatch   = errors.New("payload length mismatch")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
)

// 消息层错误
var (
	ErrDecode        = errors.New("malformed message payload")
	ErrTrailingBytes = errors.New("unconsumed trailing bytes")
)

// LengthError 描述声明长度和实际可用字节数不一致的情况
type LengthError struct {
	Declared  uint32
	Available int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%v: header declares %d bytes, %d available", ErrLengthMismatch, e.Declared, e.Available)
}

func (e *LengthError) Is(target error) bool {
	return target == ErrLengthMismatch
}

// IsTruncated 报告 err 是否只是数据不足，补齐字节后可以重试
func IsTruncated(err error) bool {
	if errors.Is(err, ErrMalformedHeader) {
		var he *headerError
		if errors.As(err, &he) {
			return he.short
		}
		return false
	}
	var le *LengthError
	if errors.As(err, &le) {
		return le.Available < int(le.Declared)
	}
	return false
}

// IsFramingError 报告 err 是否是信封层的格式错误（不含校验和错误）
func IsFramingError(err error) bool {
	return errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrUnknownMagic) ||
		errors.Is(err, ErrLengthMismatch) ||
		errors.Is(err, ErrPayloadTooLarge)
}

type headerError struct {
	short bool
	desc  string
}

func (e *headerError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformedHeader, e.desc)
}

func (e *headerError) Is(target error) bool {
	return target == ErrMalformedHeader
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
