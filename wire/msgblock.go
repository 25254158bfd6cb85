package wire

import (
	"github.com/virtue186/xnode/types"
)

const maxTxPerBlock = MaxPayloadSize/minTxSize + 1

// MsgBlock 区块头加上完整的交易列表
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

func NewMsgBlock(header *BlockHeader) *MsgBlock {
	return &MsgBlock{Header: *header}
}

func (m *MsgBlock) AddTransaction(tx *MsgTx) {
	m.Transactions = append(m.Transactions, tx)
}

func (m *MsgBlock) BlockHash() types.Hash {
	return m.Header.BlockHash()
}

// TxHashes 按区块内顺序返回所有交易哈希
func (m *MsgBlock) TxHashes() []types.Hash {
	hashes := make([]types.Hash, 0, len(m.Transactions))
	for _, tx := range m.Transactions {
		hashes = append(hashes, tx.TxHash())
	}
	return hashes
}

func (m *MsgBlock) Command() string { return CmdBlock }

func (m *MsgBlock) encode(bw *binaryWriter) error {
	writeBlockHeader(bw, &m.Header)
	bw.varInt(uint64(len(m.Transactions)))
	for _, tx := range m.Transactions {
		if err := tx.encode(bw); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgBlock) decode(br *binaryReader) error {
	if err := readBlockHeader(br, &m.Header); err != nil {
		return err
	}
	n, err := br.count(maxTxPerBlock, "transactions")
	if err != nil || n == 0 {
		return err
	}
	m.Transactions = make([]*MsgTx, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		tx := new(MsgTx)
		if err := tx.decode(br); err != nil {
			return err
		}
		m.Transactions = append(m.Transactions, tx)
	}
	return nil
}
