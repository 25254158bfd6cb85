package wire

import (
	"fmt"

	"github.com/virtue186/xnode/types"
)

// MaxBlockLocatorsPerMsg 单条 getblocks / getheaders 最多携带的定位哈希数
const MaxBlockLocatorsPerMsg = 500

// MsgGetBlocks 请求对方从定位器中第一个共同区块之后的区块清单（以 inv 回复），
// HashStop 为零时尽可能多地返回
type MsgGetBlocks struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []types.Hash
	HashStop           types.Hash
}

func NewMsgGetBlocks(hashStop types.Hash) *MsgGetBlocks {
	return &MsgGetBlocks{
		ProtocolVersion: uint32(ProtocolVersion),
		HashStop:        hashStop,
	}
}

func (m *MsgGetBlocks) AddBlockLocatorHash(hash types.Hash) error {
	if len(m.BlockLocatorHashes)+1 > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes for message, max %d", MaxBlockLocatorsPerMsg)
	}
	m.BlockLocatorHashes = append(m.BlockLocatorHashes, hash)
	return nil
}

func (m *MsgGetBlocks) Command() string { return CmdGetBlocks }

func (m *MsgGetBlocks) encode(bw *binaryWriter) error {
	return writeLocator(bw, m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop)
}

func (m *MsgGetBlocks) decode(br *binaryReader) (err error) {
	m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop, err = readLocator(br)
	return err
}

// MsgGetHeaders 与 MsgGetBlocks 相同，但以 headers 回复
type MsgGetHeaders struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []types.Hash
	HashStop           types.Hash
}

func NewMsgGetHeaders() *MsgGetHeaders {
	return &MsgGetHeaders{ProtocolVersion: uint32(ProtocolVersion)}
}

func (m *MsgGetHeaders) AddBlockLocatorHash(hash types.Hash) error {
	if len(m.BlockLocatorHashes)+1 > MaxBlockLocatorsPerMsg {
		return fmt.Errorf("too many block locator hashes for message, max %d", MaxBlockLocatorsPerMsg)
	}
	m.BlockLocatorHashes = append(m.BlockLocatorHashes, hash)
	return nil
}

func (m *MsgGetHeaders) Command() string { return CmdGetHeaders }

func (m *MsgGetHeaders) encode(bw *binaryWriter) error {
	return writeLocator(bw, m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop)
}

func (m *MsgGetHeaders) decode(br *binaryReader) (err error) {
	m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop, err = readLocator(br)
	return err
}

func writeLocator(bw *binaryWriter, version uint32, locator []types.Hash, stop types.Hash) error {
	if err := checkCount(len(locator), MaxBlockLocatorsPerMsg, "block locator hashes"); err != nil {
		return err
	}
	bw.uint32(version)
	bw.varInt(uint64(len(locator)))
	for _, h := range locator {
		bw.hash(h)
	}
	bw.hash(stop)
	return nil
}

func readLocator(br *binaryReader) (version uint32, locator []types.Hash, stop types.Hash, err error) {
	if version, err = br.uint32(); err != nil {
		return
	}
	var n int
	if n, err = br.count(MaxBlockLocatorsPerMsg, "block locator hashes"); err != nil {
		return
	}
	if n > 0 {
		locator = make([]types.Hash, n)
		for i := range locator {
			if locator[i], err = br.hash(); err != nil {
				return
			}
		}
	}
	stop, err = br.hash()
	return
}
