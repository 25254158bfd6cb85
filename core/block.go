package core

import (
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// NewBlock 组装一个区块并填好默克尔根
func NewBlock(prevBlock types.Hash, timestamp uint32, bits uint32, txs []*wire.MsgTx) *wire.MsgBlock {
	b := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   1,
		PrevBlock: prevBlock,
		Timestamp: timestamp,
		Bits:      bits,
	})
	for _, tx := range txs {
		b.AddTransaction(tx)
	}
	b.Header.MerkleRoot = MerkleRoot(b.TxHashes())
	return b
}

// NewCoinbaseTx 只有一个空输入的交易，data 放在签名脚本里
func NewCoinbaseTx(data []byte, value int64, pkScript []byte) *wire.MsgTx {
	tx := &wire.MsgTx{Version: 1}
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  data,
		Sequence:         0xffffffff,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: pkScript})
	return tx
}
