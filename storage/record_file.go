package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// recordHeaderSize 每条记录前的 4 字节长度，读取时用来核对位置信息
const recordHeaderSize = 4

// RecordLocatorSize RecordLocator 的编码长度
const RecordLocatorSize = 12

// RecordLocator 记录在某个文件中的位置，Offset 指向数据本身
type RecordLocator struct {
	File   uint32
	Offset uint32
	Size   uint32
}

// Bytes 小端编码 file | offset | size
func (l RecordLocator) Bytes() []byte {
	b := make([]byte, RecordLocatorSize)
	binary.LittleEndian.PutUint32(b[0:4], l.File)
	binary.LittleEndian.PutUint32(b[4:8], l.Offset)
	binary.LittleEndian.PutUint32(b[8:12], l.Size)
	return b
}

func (l RecordLocator) String() string {
	return fmt.Sprintf("%d:%d+%d", l.File, l.Offset, l.Size)
}

func DecodeRecordLocator(b []byte) (RecordLocator, error) {
	if len(b) != RecordLocatorSize {
		return RecordLocator{}, Corrupt("record locator must be %d bytes, got %d", RecordLocatorSize, len(b))
	}
	return RecordLocator{
		File:   binary.LittleEndian.Uint32(b[0:4]),
		Offset: binary.LittleEndian.Uint32(b[4:8]),
		Size:   binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// RecordFile 固定容量的只追加文件。写满后返回 ErrFileFull，由上层换文件
type RecordFile struct {
	mu       sync.Mutex
	f        *os.File
	number   uint32
	capacity uint32
	size     uint32
}

// OpenRecordFile 打开或创建编号为 number 的记录文件
func OpenRecordFile(path string, number, capacity uint32) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, Unavailable("open record file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Unavailable("stat record file", err)
	}
	if info.Size() > int64(capacity) {
		f.Close()
		return nil, Corrupt("file %s is %d bytes, capacity %d", path, info.Size(), capacity)
	}
	return &RecordFile{
		f:        f,
		number:   number,
		capacity: capacity,
		size:     uint32(info.Size()),
	}, nil
}

func (rf *RecordFile) Number() uint32 { return rf.number }

func (rf *RecordFile) Size() uint32 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Append 在文件末尾写入一条记录。容量不足时返回 ErrFileFull，已有记录不受影响
func (rf *RecordFile) Append(data []byte) (RecordLocator, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	need := uint64(recordHeaderSize) + uint64(len(data))
	if uint64(rf.size)+need > uint64(rf.capacity) {
		return RecordLocator{}, fmt.Errorf("%w: file %d has %d of %d bytes free, need %d",
			ErrFileFull, rf.number, rf.capacity-rf.size, rf.capacity, need)
	}

	buf := make([]byte, need)
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[recordHeaderSize:], data)
	if _, err := rf.f.WriteAt(buf, int64(rf.size)); err != nil {
		// 写了一半的数据留在 size 之后，下一次追加会覆盖它
		return RecordLocator{}, Unavailable("append record", err)
	}

	loc := RecordLocator{
		File:   rf.number,
		Offset: rf.size + recordHeaderSize,
		Size:   uint32(len(data)),
	}
	rf.size += uint32(need)
	return loc, nil
}

// Read 读取 loc 指向的记录。位置与文件内容不一致时返回 ErrCorruptRecord
func (rf *RecordFile) Read(loc RecordLocator) ([]byte, error) {
	if loc.File != rf.number {
		return nil, Corrupt("locator %s does not belong to file %d", loc, rf.number)
	}
	size := rf.Size()
	if loc.Offset < recordHeaderSize || uint64(loc.Offset)+uint64(loc.Size) > uint64(size) {
		return nil, Corrupt("locator %s outside file %d of %d bytes", loc, rf.number, size)
	}

	buf := make([]byte, recordHeaderSize+int(loc.Size))
	if _, err := rf.f.ReadAt(buf, int64(loc.Offset-recordHeaderSize)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, Corrupt("locator %s: file %d truncated", loc, rf.number)
		}
		return nil, Unavailable("read record", err)
	}
	if stored := binary.LittleEndian.Uint32(buf); stored != loc.Size {
		return nil, Corrupt("locator %s: stored record size %d", loc, stored)
	}
	return buf[recordHeaderSize:], nil
}

// Sync 把已追加的数据刷到磁盘
func (rf *RecordFile) Sync() error {
	if err := rf.f.Sync(); err != nil {
		return Unavailable("sync record file", err)
	}
	return nil
}

func (rf *RecordFile) Close() error {
	return rf.f.Close()
}
