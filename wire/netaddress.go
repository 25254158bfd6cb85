package wire

import (
	"net/netip"
)

// NetAddress 节点地址。IP 统一保存为 16 字节形式（IPv4 映射到 IPv6），端口按网络字节序编码。
// version 消息里的地址不带时间戳，Timestamp 只在 addr 消息中编码
type NetAddress struct {
	Timestamp uint32
	Services  uint64
	IP        [16]byte
	Port      uint16
}

func NewNetAddress(addr netip.AddrPort, services uint64) NetAddress {
	return NetAddress{
		Services: services,
		IP:       addr.Addr().As16(),
		Port:     addr.Port(),
	}
}

// AddrPort 返回还原后的地址，IPv4 映射地址会被还原为 IPv4
func (na NetAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom16(na.IP).Unmap(), na.Port)
}

func (na NetAddress) String() string {
	return na.AddrPort().String()
}

func writeNetAddress(bw *binaryWriter, na *NetAddress, withTimestamp bool) {
	if withTimestamp {
		bw.uint32(na.Timestamp)
	}
	bw.uint64(na.Services)
	bw.write(na.IP[:])
	bw.uint16BE(na.Port)
}

func readNetAddress(br *binaryReader, na *NetAddress, withTimestamp bool) error {
	var err error
	if withTimestamp {
		if na.Timestamp, err = br.uint32(); err != nil {
			return err
		}
	}
	if na.Services, err = br.uint64(); err != nil {
		return err
	}
	ip, err := br.readN(len(na.IP))
	if err != nil {
		return err
	}
	copy(na.IP[:], ip)
	na.Port, err = br.uint16BE()
	return err
}

// MaxAddrPerMsg 单条 addr 消息最多携带的地址数
const MaxAddrPerMsg = 1000

type MsgAddr struct {
	AddrList []NetAddress
}

func (m *MsgAddr) Command() string { return CmdAddr }

func (m *MsgAddr) encode(bw *binaryWriter) error {
	if err := checkCount(len(m.AddrList), MaxAddrPerMsg, "addresses"); err != nil {
		return err
	}
	bw.varInt(uint64(len(m.AddrList)))
	for i := range m.AddrList {
		writeNetAddress(bw, &m.AddrList[i], true)
	}
	return nil
}

func (m *MsgAddr) decode(br *binaryReader) error {
	n, err := br.count(MaxAddrPerMsg, "addresses")
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	m.AddrList = make([]NetAddress, n)
	for i := range m.AddrList {
		if err := readNetAddress(br, &m.AddrList[i], true); err != nil {
			return err
		}
	}
	return nil
}
