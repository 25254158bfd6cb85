package wire

import (
	"bytes"

	"github.com/virtue186/xnode/types"
)

const (
	// minTxInSize prev outpoint(36) + script 长度(1) + sequence(4)
	minTxInSize = 41
	// minTxOutSize value(8) + script 长度(1)
	minTxOutSize = 9
	// minTxSize version + 两个计数 + locktime
	minTxSize = 10

	maxTxInPerMessage  = MaxPayloadSize/minTxInSize + 1
	maxTxOutPerMessage = MaxPayloadSize/minTxOutSize + 1
)

// OutPoint 引用某笔交易的某个输出
type OutPoint struct {
	Hash  types.Hash
	Index uint32
}

type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

type TxOut struct {
	Value    int64
	PkScript []byte
}

// MsgTx 交易。脚本内容不做解释
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

func (m *MsgTx) AddTxIn(in *TxIn)    { m.TxIn = append(m.TxIn, in) }
func (m *MsgTx) AddTxOut(out *TxOut) { m.TxOut = append(m.TxOut, out) }

// TxHash 交易编码的双重 SHA-256
func (m *MsgTx) TxHash() types.Hash {
	var buf bytes.Buffer
	bw := newWriter(&buf)
	_ = m.encode(bw)
	return types.DoubleHash(buf.Bytes())
}

func (m *MsgTx) Command() string { return CmdTx }

func (m *MsgTx) encode(bw *binaryWriter) error {
	bw.int32(m.Version)
	bw.varInt(uint64(len(m.TxIn)))
	for _, in := range m.TxIn {
		bw.hash(in.PreviousOutPoint.Hash)
		bw.uint32(in.PreviousOutPoint.Index)
		bw.varBytes(in.SignatureScript)
		bw.uint32(in.Sequence)
	}
	bw.varInt(uint64(len(m.TxOut)))
	for _, out := range m.TxOut {
		bw.int64(out.Value)
		bw.varBytes(out.PkScript)
	}
	bw.uint32(m.LockTime)
	return nil
}

func (m *MsgTx) decode(br *binaryReader) error {
	var err error
	if m.Version, err = br.int32(); err != nil {
		return err
	}

	nIn, err := br.count(maxTxInPerMessage, "transaction inputs")
	if err != nil {
		return err
	}
	if nIn > 0 {
		m.TxIn = make([]*TxIn, 0, min(nIn, 1024))
	}
	for i := 0; i < nIn; i++ {
		in := new(TxIn)
		if in.PreviousOutPoint.Hash, err = br.hash(); err != nil {
			return err
		}
		if in.PreviousOutPoint.Index, err = br.uint32(); err != nil {
			return err
		}
		if in.SignatureScript, err = br.varBytes(MaxPayloadSize, "signature script"); err != nil {
			return err
		}
		if in.Sequence, err = br.uint32(); err != nil {
			return err
		}
		m.TxIn = append(m.TxIn, in)
	}

	nOut, err := br.count(maxTxOutPerMessage, "transaction outputs")
	if err != nil {
		return err
	}
	if nOut > 0 {
		m.TxOut = make([]*TxOut, 0, min(nOut, 1024))
	}
	for i := 0; i < nOut; i++ {
		out := new(TxOut)
		if out.Value, err = br.int64(); err != nil {
			return err
		}
		if out.PkScript, err = br.varBytes(MaxPayloadSize, "public key script"); err != nil {
			return err
		}
		m.TxOut = append(m.TxOut, out)
	}

	m.LockTime, err = br.uint32()
	return err
}
