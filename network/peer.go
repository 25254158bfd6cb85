package network

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/virtue186/xnode/wire"
)

var (
	ErrPeerClosed    = errors.New("peer closed")
	ErrSendQueueFull = errors.New("peer send queue full")
)

const (
	defaultSendQueueSize = 256
	writeTimeout         = 30 * time.Second
)

// PeerID 连接编号，在一次进程生命周期内唯一
type PeerID uint64

// Peer 是对一个网络对等节点的通用接口
type Peer interface {
	ID() PeerID
	Addr() string
	Inbound() bool
	// Send 把消息放入发送队列，不等待写出
	Send(msg wire.Message) error
	// SetVersion 记录对方在握手时发来的 version
	SetVersion(v *wire.MsgVersion)
	Info() PeerInfo
	Close() error
}

// PeerInfo 提供给 RPC 的连接描述
type PeerInfo struct {
	ID             PeerID    `json:"id"`
	Addr           string    `json:"addr"`
	Inbound        bool      `json:"inbound"`
	ConnectedSince time.Time `json:"connected_since"`
	BytesSent      uint64    `json:"bytes_sent"`
	BytesReceived  uint64    `json:"bytes_received"`
	Version        int32     `json:"version"`
	UserAgent      string    `json:"user_agent"`
	StartHeight    int32     `json:"start_height"`
}

// peerBase TCPPeer 和 LocalPeer 共用的身份与统计信息
type peerBase struct {
	id      PeerID
	addr    string
	inbound bool
	since   time.Time

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	mu      sync.RWMutex
	version *wire.MsgVersion
}

func (b *peerBase) ID() PeerID    { return b.id }
func (b *peerBase) Addr() string  { return b.addr }
func (b *peerBase) Inbound() bool { return b.inbound }

func (b *peerBase) SetVersion(v *wire.MsgVersion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = v
}

func (b *peerBase) Info() PeerInfo {
	info := PeerInfo{
		ID:             b.id,
		Addr:           b.addr,
		Inbound:        b.inbound,
		ConnectedSince: b.since,
		BytesSent:      b.bytesSent.Load(),
		BytesReceived:  b.bytesReceived.Load(),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.version != nil {
		info.Version = b.version.ProtocolVersion
		info.UserAgent = b.version.UserAgent
		info.StartHeight = b.version.StartHeight
	}
	return info
}

// TCPPeer 代表一个通过 TCP 连接的远端节点。
// 发送的消息先进入队列，由单独的 goroutine 按顺序写出
type TCPPeer struct {
	peerBase
	conn  net.Conn
	magic wire.Magic

	sendCh    chan wire.Message
	quit      chan struct{}
	closeOnce sync.Once
}

func NewTCPPeer(id PeerID, conn net.Conn, inbound bool, magic wire.Magic, queueSize int) *TCPPeer {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &TCPPeer{
		peerBase: peerBase{
			id:      id,
			addr:    conn.RemoteAddr().String(),
			inbound: inbound,
			since:   time.Now(),
		},
		conn:   conn,
		magic:  magic,
		sendCh: make(chan wire.Message, queueSize),
		quit:   make(chan struct{}),
	}
}

func (p *TCPPeer) Send(msg wire.Message) error {
	select {
	case <-p.quit:
		return ErrPeerClosed
	default:
	}
	select {
	case p.sendCh <- msg:
		return nil
	case <-p.quit:
		return ErrPeerClosed
	default:
		return ErrSendQueueFull
	}
}

// writeLoop 直到连接关闭前一直把队列中的消息写到连接上
func (p *TCPPeer) writeLoop() {
	for {
		select {
		case msg := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			n, err := wire.WriteMessage(p.conn, p.magic, msg)
			p.bytesSent.Add(uint64(n))
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"peer":    p.addr,
					"command": msg.Command(),
				}).Warnf("write failed: %v", err)
				p.Close()
				return
			}
			messagesSent.WithLabelValues(msg.Command()).Inc()
		case <-p.quit:
			return
		}
	}
}

func (p *TCPPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)
		err = p.conn.Close()
	})
	return err
}

// countingReader 统计从连接上读到的字节数
type countingReader struct {
	r net.Conn
	n *atomic.Uint64
}

func (c countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(uint64(n))
	return n, err
}
