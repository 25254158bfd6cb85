package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/virtue186/xnode/wire"
)

// LocalPeer 进程内的对等节点，发出的消息保存在内存里，
// 连接到另一个 LocalPeer 时同时投递给对方的 Consume 通道
type LocalPeer struct {
	peerBase

	lock      sync.RWMutex
	sent      []wire.Message
	remote    *LocalPeer
	consumeCh chan wire.Message
	closed    bool
}

func NewLocalPeer(id PeerID, addr string, inbound bool) *LocalPeer {
	return &LocalPeer{
		peerBase: peerBase{
			id:      id,
			addr:    addr,
			inbound: inbound,
			since:   time.Now(),
		},
		consumeCh: make(chan wire.Message, 1024),
	}
}

// Connect 把两个 LocalPeer 连成一对，a 发出的消息出现在 b.Consume() 上，反之亦然
func Connect(a, b *LocalPeer) {
	a.lock.Lock()
	a.remote = b
	a.lock.Unlock()

	b.lock.Lock()
	b.remote = a
	b.lock.Unlock()
}

func (p *LocalPeer) Consume() <-chan wire.Message {
	return p.consumeCh
}

func (p *LocalPeer) Send(msg wire.Message) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.sent = append(p.sent, msg)
	if p.remote == nil {
		return nil
	}
	select {
	case p.remote.consumeCh <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendQueueFull, p.remote.addr)
	}
}

// Sent 返回到目前为止发出的全部消息
func (p *LocalPeer) Sent() []wire.Message {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return append([]wire.Message(nil), p.sent...)
}

// Reset 清空已发送记录
func (p *LocalPeer) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sent = nil
}

func (p *LocalPeer) Closed() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.closed
}

func (p *LocalPeer) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	return nil
}

// SentOf 返回已发送消息中类型为 T 的那些
func SentOf[T wire.Message](p *LocalPeer) []T {
	var out []T
	for _, msg := range p.Sent() {
		if m, ok := msg.(T); ok {
			out = append(out, m)
		}
	}
	return out
}
