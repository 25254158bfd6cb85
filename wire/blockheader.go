package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/virtue186/xnode/types"
)

// BlockHeaderLen 区块头的固定编码长度
const BlockHeaderLen = 80

// MaxBlockHeadersPerMsg 单条 headers 消息最多携带的区块头数
const MaxBlockHeadersPerMsg = 2000

type BlockHeader struct {
	Version    int32
	PrevBlock  types.Hash
	MerkleRoot types.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// BlockHash 区块头编码的双重 SHA-256
func (h *BlockHeader) BlockHash() types.Hash {
	var buf bytes.Buffer
	buf.Grow(BlockHeaderLen)
	bw := newWriter(&buf)
	writeBlockHeader(bw, h)
	return types.DoubleHash(buf.Bytes())
}

// Serialize 写出 80 字节的区块头编码
func (h *BlockHeader) Serialize(w io.Writer) error {
	bw := newWriter(w)
	writeBlockHeader(bw, h)
	return bw.err
}

// Deserialize 从 r 读取 80 字节的区块头
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(newReader(r), h)
}

func writeBlockHeader(bw *binaryWriter, h *BlockHeader) {
	bw.int32(h.Version)
	bw.hash(h.PrevBlock)
	bw.hash(h.MerkleRoot)
	bw.uint32(h.Timestamp)
	bw.uint32(h.Bits)
	bw.uint32(h.Nonce)
}

func readBlockHeader(br *binaryReader, h *BlockHeader) error {
	var err error
	if h.Version, err = br.int32(); err != nil {
		return err
	}
	if h.PrevBlock, err = br.hash(); err != nil {
		return err
	}
	if h.MerkleRoot, err = br.hash(); err != nil {
		return err
	}
	if h.Timestamp, err = br.uint32(); err != nil {
		return err
	}
	if h.Bits, err = br.uint32(); err != nil {
		return err
	}
	h.Nonce, err = br.uint32()
	return err
}

// MsgHeaders 回复 getheaders。每个区块头后面跟一个必须为 0 的交易数
type MsgHeaders struct {
	Headers []*BlockHeader
}

func NewMsgHeaders() *MsgHeaders { return &MsgHeaders{} }

func (m *MsgHeaders) AddBlockHeader(h *BlockHeader) error {
	if len(m.Headers)+1 > MaxBlockHeadersPerMsg {
		return fmt.Errorf("too many block headers in message, max %d", MaxBlockHeadersPerMsg)
	}
	m.Headers = append(m.Headers, h)
	return nil
}

func (m *MsgHeaders) Command() string { return CmdHeaders }

func (m *MsgHeaders) encode(bw *binaryWriter) error {
	if err := checkCount(len(m.Headers), MaxBlockHeadersPerMsg, "block headers"); err != nil {
		return err
	}
	bw.varInt(uint64(len(m.Headers)))
	for _, h := range m.Headers {
		writeBlockHeader(bw, h)
		bw.varInt(0)
	}
	return nil
}

func (m *MsgHeaders) decode(br *binaryReader) error {
	n, err := br.count(MaxBlockHeadersPerMsg, "block headers")
	if err != nil || n == 0 {
		return err
	}
	m.Headers = make([]*BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		h := new(BlockHeader)
		if err := readBlockHeader(br, h); err != nil {
			return err
		}
		txCount, err := br.varInt()
		if err != nil {
			return err
		}
		if txCount != 0 {
			return decodeErr("block header %s carries %d transactions, want 0", h.BlockHash(), txCount)
		}
		m.Headers = append(m.Headers, h)
	}
	return nil
}
