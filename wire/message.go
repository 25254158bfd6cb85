package wire

import (
	"bytes"
	"fmt"
)

// 协议命令
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAddr       = "addr"
	CmdGetAddr    = "getaddr"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdNotFound   = "notfound"
	CmdGetBlocks  = "getblocks"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdBlock      = "block"
	CmdTx         = "tx"
)

// ProtocolVersion 本实现使用的协议版本
const ProtocolVersion int32 = 70015

// Message 是所有协议消息的封闭集合，只有本包内的类型能实现它
type Message interface {
	Command() string
	encode(bw *binaryWriter) error
	decode(br *binaryReader) error
}

func makeEmptyMessage(command string) Message {
	switch command {
	case CmdVersion:
		return &MsgVersion{}
	case CmdVerAck:
		return &MsgVerAck{}
	case CmdPing:
		return &MsgPing{}
	case CmdPong:
		return &MsgPong{}
	case CmdAddr:
		return &MsgAddr{}
	case CmdGetAddr:
		return &MsgGetAddr{}
	case CmdInv:
		return &MsgInv{}
	case CmdGetData:
		return &MsgGetData{}
	case CmdNotFound:
		return &MsgNotFound{}
	case CmdGetBlocks:
		return &MsgGetBlocks{}
	case CmdGetHeaders:
		return &MsgGetHeaders{}
	case CmdHeaders:
		return &MsgHeaders{}
	case CmdBlock:
		return &MsgBlock{}
	case CmdTx:
		return &MsgTx{}
	}
	return nil
}

// DecodeMessage 按命令解码载荷。未知命令返回 *MsgUnknown 而不是错误；
// 载荷不合法或有多余字节时返回包装了 ErrDecode 的错误
func DecodeMessage(command string, payload []byte) (Message, error) {
	msg := makeEmptyMessage(command)
	if msg == nil {
		return &MsgUnknown{Cmd: command, Payload: payload}, nil
	}

	r := bytes.NewReader(payload)
	if err := msg.decode(newReader(r)); err != nil {
		return nil, fmt.Errorf("decode %s: %w", command, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode %s: %w: %w (%d bytes)", command, ErrDecode, ErrTrailingBytes, r.Len())
	}
	return msg, nil
}

// EncodeMessage 返回 msg 的载荷编码
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	bw := newWriter(&buf)
	if err := msg.encode(bw); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Command(), err)
	}
	if bw.err != nil {
		return nil, bw.err
	}
	if buf.Len() > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: %w: %d bytes", msg.Command(), ErrPayloadTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// MsgUnknown 承载未识别的命令，上层可以记录后忽略
type MsgUnknown struct {
	Cmd     string
	Payload []byte
}

func (m *MsgUnknown) Command() string { return m.Cmd }

func (m *MsgUnknown) encode(bw *binaryWriter) error {
	bw.write(m.Payload)
	return nil
}

func (m *MsgUnknown) decode(br *binaryReader) error {
	return decodeErr("unknown command %q has no decoder", m.Cmd)
}

// MsgVerAck 握手确认，没有载荷
type MsgVerAck struct{}

func (m *MsgVerAck) Command() string               { return CmdVerAck }
func (m *MsgVerAck) encode(bw *binaryWriter) error { return nil }
func (m *MsgVerAck) decode(br *binaryReader) error { return nil }

// MsgGetAddr 请求对方已知的地址，没有载荷
type MsgGetAddr struct{}

func (m *MsgGetAddr) Command() string               { return CmdGetAddr }
func (m *MsgGetAddr) encode(bw *binaryWriter) error { return nil }
func (m *MsgGetAddr) decode(br *binaryReader) error { return nil }

type MsgPing struct {
	Nonce uint64
}

func NewMsgPing(nonce uint64) *MsgPing { return &MsgPing{Nonce: nonce} }

func (m *MsgPing) Command() string { return CmdPing }

func (m *MsgPing) encode(bw *binaryWriter) error {
	bw.uint64(m.Nonce)
	return nil
}

func (m *MsgPing) decode(br *binaryReader) (err error) {
	m.Nonce, err = br.uint64()
	return err
}

type MsgPong struct {
	Nonce uint64
}

func NewMsgPong(nonce uint64) *MsgPong { return &MsgPong{Nonce: nonce} }

func (m *MsgPong) Command() string { return CmdPong }

func (m *MsgPong) encode(bw *binaryWriter) error {
	bw.uint64(m.Nonce)
	return nil
}

func (m *MsgPong) decode(br *binaryReader) (err error) {
	m.Nonce, err = br.uint64()
	return err
}
