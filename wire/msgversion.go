package wire

// 服务位
const (
	SFNodeNetwork uint64 = 1 << 0
)

// MsgVersion 握手时双方交换的自我描述
type MsgVersion struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	AddrRecv        NetAddress
	AddrFrom        NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) encode(bw *binaryWriter) error {
	if err := checkCount(len(m.UserAgent), MaxUserAgentLen, "user agent bytes"); err != nil {
		return err
	}
	bw.int32(m.ProtocolVersion)
	bw.uint64(m.Services)
	bw.int64(m.Timestamp)
	writeNetAddress(bw, &m.AddrRecv, false)
	writeNetAddress(bw, &m.AddrFrom, false)
	bw.uint64(m.Nonce)
	bw.varString(m.UserAgent)
	bw.int32(m.StartHeight)
	bw.bool(m.Relay)
	return nil
}

func (m *MsgVersion) decode(br *binaryReader) error {
	var err error
	if m.ProtocolVersion, err = br.int32(); err != nil {
		return err
	}
	if m.Services, err = br.uint64(); err != nil {
		return err
	}
	if m.Timestamp, err = br.int64(); err != nil {
		return err
	}
	if err = readNetAddress(br, &m.AddrRecv, false); err != nil {
		return err
	}
	if err = readNetAddress(br, &m.AddrFrom, false); err != nil {
		return err
	}
	if m.Nonce, err = br.uint64(); err != nil {
		return err
	}
	if m.UserAgent, err = br.varString(MaxUserAgentLen, "user agent bytes"); err != nil {
		return err
	}
	if m.StartHeight, err = br.int32(); err != nil {
		return err
	}
	m.Relay, err = br.bool()
	return err
}
