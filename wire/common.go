package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/virtue186/xnode/types"
)

const (
	// MaxVarIntPayload 变长整数的最大编码长度
	MaxVarIntPayload = 9

	// MaxUserAgentLen version 消息中 user agent 的最大长度
	MaxUserAgentLen = 256
)

var le = binary.LittleEndian

// binaryReader 包装 io.Reader，统一把读取错误包装为解码错误
type binaryReader struct {
	r   io.Reader
	buf [8]byte
}

func newReader(r io.Reader) *binaryReader {
	return &binaryReader{r: r}
}

func (br *binaryReader) read(n int) ([]byte, error) {
	b := br.buf[:n]
	if _, err := io.ReadFull(br.r, b); err != nil {
		return nil, decodeErr("read %d bytes: %v", n, err)
	}
	return b, nil
}

// readN 读取 n 个字节到新分配的切片
func (br *binaryReader) readN(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(br.r, b); err != nil {
		return nil, decodeErr("read %d bytes: %v", n, err)
	}
	return b, nil
}

func (br *binaryReader) uint8() (uint8, error) {
	b, err := br.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (br *binaryReader) uint16() (uint16, error) {
	b, err := br.read(2)
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (br *binaryReader) uint16BE() (uint16, error) {
	b, err := br.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (br *binaryReader) uint32() (uint32, error) {
	b, err := br.read(4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (br *binaryReader) int32() (int32, error) {
	v, err := br.uint32()
	return int32(v), err
}

func (br *binaryReader) uint64() (uint64, error) {
	b, err := br.read(8)
	if err != nil {
		return 0, err
	}
	return le.Uint64(b), nil
}

func (br *binaryReader) int64() (int64, error) {
	v, err := br.uint64()
	return int64(v), err
}

func (br *binaryReader) bool() (bool, error) {
	v, err := br.uint8()
	return v != 0, err
}

func (br *binaryReader) hash() (types.Hash, error) {
	var h types.Hash
	if _, err := io.ReadFull(br.r, h[:]); err != nil {
		return h, decodeErr("read hash: %v", err)
	}
	return h, nil
}

// varInt 读取紧凑编码的变长整数，拒绝非最短编码
func (br *binaryReader) varInt() (uint64, error) {
	disc, err := br.uint8()
	if err != nil {
		return 0, err
	}

	var v, minVal uint64
	switch disc {
	case 0xff:
		v, err = br.uint64()
		minVal = 0x100000000
	case 0xfe:
		var v32 uint32
		v32, err = br.uint32()
		v, minVal = uint64(v32), 0x10000
	case 0xfd:
		var v16 uint16
		v16, err = br.uint16()
		v, minVal = uint64(v16), 0xfd
	default:
		return uint64(disc), nil
	}
	if err != nil {
		return 0, err
	}
	if v < minVal {
		return 0, decodeErr("non-canonical varint %x - discriminant %x must encode a value greater than %x", v, disc, minVal)
	}
	return v, nil
}

// count 读取一个元素个数并检查上限
func (br *binaryReader) count(max uint64, what string) (int, error) {
	n, err := br.varInt()
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, decodeErr("too many %s: %d, max %d", what, n, max)
	}
	return int(n), nil
}

// varBytes 读取带长度前缀的字节串，长度为 0 时返回 nil
func (br *binaryReader) varBytes(max uint64, what string) ([]byte, error) {
	n, err := br.count(max, what)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br.r, b); err != nil {
		return nil, decodeErr("read %s: %v", what, err)
	}
	return b, nil
}

func (br *binaryReader) varString(max uint64, what string) (string, error) {
	b, err := br.varBytes(max, what)
	return string(b), err
}

// binaryWriter 记录第一次写错误，后续写入直接忽略
type binaryWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func newWriter(w io.Writer) *binaryWriter {
	return &binaryWriter{w: w}
}

func (bw *binaryWriter) write(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *binaryWriter) uint8(v uint8) {
	bw.buf[0] = v
	bw.write(bw.buf[:1])
}

func (bw *binaryWriter) uint16(v uint16) {
	le.PutUint16(bw.buf[:2], v)
	bw.write(bw.buf[:2])
}

func (bw *binaryWriter) uint16BE(v uint16) {
	binary.BigEndian.PutUint16(bw.buf[:2], v)
	bw.write(bw.buf[:2])
}

func (bw *binaryWriter) uint32(v uint32) {
	le.PutUint32(bw.buf[:4], v)
	bw.write(bw.buf[:4])
}

func (bw *binaryWriter) int32(v int32) { bw.uint32(uint32(v)) }

func (bw *binaryWriter) uint64(v uint64) {
	le.PutUint64(bw.buf[:8], v)
	bw.write(bw.buf[:8])
}

func (bw *binaryWriter) int64(v int64) { bw.uint64(uint64(v)) }

func (bw *binaryWriter) bool(v bool) {
	if v {
		bw.uint8(1)
		return
	}
	bw.uint8(0)
}

func (bw *binaryWriter) hash(h types.Hash) {
	bw.write(h[:])
}

func (bw *binaryWriter) varInt(v uint64) {
	switch {
	case v < 0xfd:
		bw.uint8(uint8(v))
	case v <= math.MaxUint16:
		bw.uint8(0xfd)
		bw.uint16(uint16(v))
	case v <= math.MaxUint32:
		bw.uint8(0xfe)
		bw.uint32(uint32(v))
	default:
		bw.uint8(0xff)
		bw.uint64(v)
	}
}

func (bw *binaryWriter) varBytes(b []byte) {
	bw.varInt(uint64(len(b)))
	bw.write(b)
}

func (bw *binaryWriter) varString(s string) {
	bw.varBytes([]byte(s))
}

// checkCount 编码前检查元素个数，保证编出的消息对端能解开
func checkCount(n int, max uint64, what string) error {
	if uint64(n) > max {
		return fmt.Errorf("too many %s: %d, max %d", what, n, max)
	}
	return nil
}

// VarIntSerializeSize 返回 v 的紧凑编码长度
func VarIntSerializeSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= math.MaxUint16:
		return 3
	case v <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}

// WriteVarInt 把 v 以紧凑编码写入 w
func WriteVarInt(w io.Writer, v uint64) error {
	bw := newWriter(w)
	bw.varInt(v)
	return bw.err
}

// ReadVarInt 从 r 读取一个紧凑编码的整数
func ReadVarInt(r io.Reader) (uint64, error) {
	return newReader(r).varInt()
}
