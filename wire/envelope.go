package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/virtue186/xnode/types"
)

const (
	// CommandSize 命令字段定长 12 字节，不足补 0
	CommandSize = 12

	// HeaderSize magic(4) + command(12) + length(4) + checksum(4)
	HeaderSize = 24

	// MaxPayloadSize 单条消息载荷的上限
	MaxPayloadSize = 32 * 1024 * 1024
)

// Magic 网络标识，按小端写在每条消息的最前面
type Magic uint32

func (m Magic) bytes() [4]byte {
	var b [4]byte
	le.PutUint32(b[:], uint32(m))
	return b
}

func (m Magic) String() string {
	return fmt.Sprintf("0x%08x", uint32(m))
}

// Envelope 是一条完整的、已通过长度和校验和检查的消息帧
type Envelope struct {
	Magic    Magic
	Command  string
	Length   uint32
	Checksum [4]byte
	Payload  []byte
}

// EncodeEnvelope 生成 24 字节消息头加载荷
func EncodeEnvelope(magic Magic, command string, payload []byte) ([]byte, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	mb := magic.bytes()
	copy(buf[0:4], mb[:])
	copy(buf[4:4+CommandSize], command)
	le.PutUint32(buf[16:20], uint32(len(payload)))
	sum := types.Checksum(payload)
	copy(buf[20:24], sum[:])
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// DecodeEnvelope 从一段完整的字节中解出一条消息帧。b 必须恰好包含一条消息
func DecodeEnvelope(b []byte, magic Magic) (*Envelope, error) {
	if len(b) < HeaderSize {
		return nil, &headerError{short: true, desc: fmt.Sprintf("need %d header bytes, have %d", HeaderSize, len(b))}
	}
	env, err := parseHeader(b[:HeaderSize], magic)
	if err != nil {
		return nil, err
	}

	available := len(b) - HeaderSize
	if available != int(env.Length) {
		return nil, &LengthError{Declared: env.Length, Available: available}
	}
	env.Payload = b[HeaderSize:]
	if err := env.verify(); err != nil {
		return nil, err
	}
	return env, nil
}

func parseHeader(hdr []byte, magic Magic) (*Envelope, error) {
	got := Magic(le.Uint32(hdr[0:4]))
	if got != magic {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnknownMagic, got, magic)
	}
	command, err := parseCommand(hdr[4 : 4+CommandSize])
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Magic:   got,
		Command: command,
		Length:  le.Uint32(hdr[16:20]),
	}
	copy(env.Checksum[:], hdr[20:24])
	if env.Length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s declares %d bytes", ErrPayloadTooLarge, command, env.Length)
	}
	return env, nil
}

func (e *Envelope) verify() error {
	sum := types.Checksum(e.Payload)
	if sum != e.Checksum {
		return fmt.Errorf("%w: %s header %x, computed %x", ErrChecksumMismatch, e.Command, e.Checksum, sum)
	}
	return nil
}

// parseCommand 命令为可打印 ASCII，遇到第一个 0 后剩余字节必须全为 0
func parseCommand(field []byte) (string, error) {
	n := bytes.IndexByte(field, 0)
	if n < 0 {
		n = len(field)
	}
	for _, c := range field[n:] {
		if c != 0 {
			return "", &headerError{desc: "command field has bytes after padding"}
		}
	}
	command := string(field[:n])
	if err := validateCommand(command); err != nil {
		return "", &headerError{desc: err.Error()}
	}
	return command, nil
}

func validateCommand(command string) error {
	if len(command) == 0 || len(command) > CommandSize {
		return fmt.Errorf("command %q must be 1..%d bytes", command, CommandSize)
	}
	for i := 0; i < len(command); i++ {
		if command[i] < 0x21 || command[i] > 0x7e {
			return fmt.Errorf("command %q contains non-printable byte 0x%02x", command, command[i])
		}
	}
	return nil
}

// EnvelopeReader 从字节流中逐条读取消息帧。
// 遇到错误的 magic 时丢弃字节直到下一个 magic 出现为止
type EnvelopeReader struct {
	r         *bufio.Reader
	magic     Magic
	discarded uint64
}

func NewEnvelopeReader(r io.Reader, magic Magic) *EnvelopeReader {
	return &EnvelopeReader{
		r:     bufio.NewReaderSize(r, 64*1024),
		magic: magic,
	}
}

// Discarded 返回为重新同步而丢弃的字节总数
func (er *EnvelopeReader) Discarded() uint64 {
	return er.discarded
}

// ReadEnvelope 读取下一条消息帧。
// framing 错误只影响当前这一帧，调用方可以继续调用；
// ErrChecksumMismatch 和底层 io 错误应当终止连接
func (er *EnvelopeReader) ReadEnvelope() (*Envelope, error) {
	if err := er.resync(); err != nil {
		return nil, err
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(er.r, hdr[:]); err != nil {
		return nil, err
	}
	env, err := parseHeader(hdr[:], er.magic)
	if err != nil {
		// magic 已由 resync 保证，长度字段可信，跳过这一帧声明的载荷
		if skipErr := er.skip(le.Uint32(hdr[16:20])); skipErr != nil {
			return nil, skipErr
		}
		return nil, err
	}

	env.Payload = make([]byte, env.Length)
	if _, err := io.ReadFull(er.r, env.Payload); err != nil {
		return nil, err
	}
	if err := env.verify(); err != nil {
		return nil, err
	}
	return env, nil
}

// skip 丢弃 n 字节载荷，按块读取，不一次性分配
func (er *EnvelopeReader) skip(n uint32) error {
	skipped, err := io.CopyN(io.Discard, er.r, int64(n))
	er.discarded += uint64(skipped)
	return err
}

// resync 把读位置推进到下一个 magic 的起点
func (er *EnvelopeReader) resync() error {
	want := er.magic.bytes()
	for {
		peek, err := er.r.Peek(len(want))
		if err != nil {
			return err
		}
		if bytes.Equal(peek, want[:]) {
			return nil
		}
		if _, err := er.r.Discard(1); err != nil {
			return err
		}
		er.discarded++
	}
}

// WriteMessage 编码 msg 并作为一整帧写入 w，返回写出的字节数
func WriteMessage(w io.Writer, magic Magic, msg Message) (int, error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return 0, err
	}
	frame, err := EncodeEnvelope(magic, msg.Command(), payload)
	if err != nil {
		return 0, err
	}
	return w.Write(frame)
}

// ReadMessage 读取下一帧并解码。解码失败时仍返回 envelope，便于调用方记录
func ReadMessage(er *EnvelopeReader) (Message, *Envelope, error) {
	env, err := er.ReadEnvelope()
	if err != nil {
		return nil, nil, err
	}
	msg, err := DecodeMessage(env.Command, env.Payload)
	if err != nil {
		return nil, env, err
	}
	return msg, env, nil
}
