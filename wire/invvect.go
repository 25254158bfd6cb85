package wire

import (
	"fmt"

	"github.com/virtue186/xnode/types"
)

// MaxInvPerMsg inv / getdata / notfound 单条消息最多携带的条目数
const MaxInvPerMsg = 50000

type InvType uint32

const (
	InvTypeError InvType = 0
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

func (t InvType) String() string {
	switch t {
	case InvTypeError:
		return "ERROR"
	case InvTypeTx:
		return "MSG_TX"
	case InvTypeBlock:
		return "MSG_BLOCK"
	}
	return fmt.Sprintf("Unknown InvType (%d)", uint32(t))
}

// InvVect 用于宣告或请求一个区块或交易
type InvVect struct {
	Type InvType
	Hash types.Hash
}

func NewInvVect(typ InvType, hash types.Hash) *InvVect {
	return &InvVect{Type: typ, Hash: hash}
}

func (iv *InvVect) String() string {
	return fmt.Sprintf("%s %s", iv.Type, iv.Hash)
}

func writeInvList(bw *binaryWriter, list []*InvVect) error {
	if err := checkCount(len(list), MaxInvPerMsg, "inventory vectors"); err != nil {
		return err
	}
	bw.varInt(uint64(len(list)))
	for _, iv := range list {
		bw.uint32(uint32(iv.Type))
		bw.hash(iv.Hash)
	}
	return nil
}

func readInvList(br *binaryReader) ([]*InvVect, error) {
	n, err := br.count(MaxInvPerMsg, "inventory vectors")
	if err != nil || n == 0 {
		return nil, err
	}
	list := make([]*InvVect, 0, n)
	for i := 0; i < n; i++ {
		typ, err := br.uint32()
		if err != nil {
			return nil, err
		}
		hash, err := br.hash()
		if err != nil {
			return nil, err
		}
		list = append(list, NewInvVect(InvType(typ), hash))
	}
	return list, nil
}

// MsgInv 宣告本节点拥有的区块或交易
type MsgInv struct {
	InvList []*InvVect
}

func NewMsgInv() *MsgInv { return &MsgInv{} }

// AddInvVect 追加一个条目，超过上限时返回错误
func (m *MsgInv) AddInvVect(iv *InvVect) error {
	if len(m.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors in message, max %d", MaxInvPerMsg)
	}
	m.InvList = append(m.InvList, iv)
	return nil
}

func (m *MsgInv) Command() string { return CmdInv }

func (m *MsgInv) encode(bw *binaryWriter) error { return writeInvList(bw, m.InvList) }

func (m *MsgInv) decode(br *binaryReader) (err error) {
	m.InvList, err = readInvList(br)
	return err
}

// MsgGetData 请求 inv 中宣告过的对象
type MsgGetData struct {
	InvList []*InvVect
}

func NewMsgGetData() *MsgGetData { return &MsgGetData{} }

func (m *MsgGetData) AddInvVect(iv *InvVect) error {
	if len(m.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors in message, max %d", MaxInvPerMsg)
	}
	m.InvList = append(m.InvList, iv)
	return nil
}

func (m *MsgGetData) Command() string { return CmdGetData }

func (m *MsgGetData) encode(bw *binaryWriter) error { return writeInvList(bw, m.InvList) }

func (m *MsgGetData) decode(br *binaryReader) (err error) {
	m.InvList, err = readInvList(br)
	return err
}

// MsgNotFound 回应 getdata 中本节点没有的对象
type MsgNotFound struct {
	InvList []*InvVect
}

func NewMsgNotFound() *MsgNotFound { return &MsgNotFound{} }

func (m *MsgNotFound) AddInvVect(iv *InvVect) error {
	if len(m.InvList)+1 > MaxInvPerMsg {
		return fmt.Errorf("too many inventory vectors in message, max %d", MaxInvPerMsg)
	}
	m.InvList = append(m.InvList, iv)
	return nil
}

func (m *MsgNotFound) Command() string { return CmdNotFound }

func (m *MsgNotFound) encode(bw *binaryWriter) error { return writeInvList(bw, m.InvList) }

func (m *MsgNotFound) decode(br *binaryReader) (err error) {
	m.InvList, err = readInvList(br)
	return err
}
