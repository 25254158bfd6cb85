package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

const (
	blockPrefix       = "b|"
	blockHeightPrefix = "h|"
	txPrefix          = "t|"
	bestBlockKey      = "B"
)

var (
	blockPrefixB       = []byte(blockPrefix)
	blockHeightPrefixB = []byte(blockHeightPrefix)
	txPrefixB          = []byte(txPrefix)
	bestBlockKeyB      = []byte(bestBlockKey)
)

func blockKey(hash types.Hash) []byte {
	b := make([]byte, 0, len(blockPrefixB)+types.HashSize)
	b = append(b, blockPrefixB...)
	return append(b, hash[:]...)
}

// blockHeightKey 高度按大端编码，保证按键序遍历就是按高度遍历
func blockHeightKey(height uint32) []byte {
	b := make([]byte, len(blockHeightPrefixB)+4)
	copy(b, blockHeightPrefixB)
	binary.BigEndian.PutUint32(b[len(blockHeightPrefixB):], height)
	return b
}

func txKey(hash types.Hash) []byte {
	b := make([]byte, 0, len(txPrefixB)+types.HashSize)
	b = append(b, txPrefixB...)
	return append(b, hash[:]...)
}

const (
	entryFlagMainChain = 1 << 0

	blockEntrySize = 4 + wire.BlockHeaderLen + storage.RecordLocatorSize + 1
)

// blockEntry 区块索引项：高度、区块头、区块数据在记录文件中的位置
type blockEntry struct {
	height  uint32
	header  wire.BlockHeader
	locator storage.RecordLocator
	main    bool
}

func (e *blockEntry) encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, blockEntrySize))
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], e.height)
	buf.Write(h[:])

	if err := e.header.Serialize(buf); err != nil {
		return nil, err
	}
	buf.Write(e.locator.Bytes())
	var flags byte
	if e.main {
		flags |= entryFlagMainChain
	}
	buf.WriteByte(flags)
	return buf.Bytes(), nil
}

func decodeBlockEntry(b []byte) (*blockEntry, error) {
	if len(b) != blockEntrySize {
		return nil, storage.Corrupt("block index entry must be %d bytes, got %d", blockEntrySize, len(b))
	}
	e := &blockEntry{height: binary.LittleEndian.Uint32(b[0:4])}

	if err := e.header.Deserialize(bytes.NewReader(b[4 : 4+wire.BlockHeaderLen])); err != nil {
		return nil, storage.Corrupt("block index header: %v", err)
	}

	off := 4 + wire.BlockHeaderLen
	var err error
	if e.locator, err = storage.DecodeRecordLocator(b[off : off+storage.RecordLocatorSize]); err != nil {
		return nil, err
	}
	e.main = b[off+storage.RecordLocatorSize]&entryFlagMainChain != 0
	return e, nil
}

func (e *blockEntry) String() string {
	return fmt.Sprintf("height=%d hash=%s main=%v at %s", e.height, e.header.BlockHash(), e.main, e.locator)
}
