package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/virtue186/xnode/wire"
)

var (
	ErrTooManyPeers = errors.New("too many peers")
	ErrUnknownPeer  = errors.New("unknown peer")
)

// PeerSet 当前所有连接，实现 Communicator
type PeerSet struct {
	lock     sync.RWMutex
	peers    map[PeerID]Peer
	maxPeers int
}

// NewPeerSet maxPeers <= 0 表示不限制
func NewPeerSet(maxPeers int) *PeerSet {
	return &PeerSet{
		peers:    make(map[PeerID]Peer),
		maxPeers: maxPeers,
	}
}

func (ps *PeerSet) Add(p Peer) error {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	if ps.maxPeers > 0 && len(ps.peers) >= ps.maxPeers {
		return fmt.Errorf("%w: limit %d", ErrTooManyPeers, ps.maxPeers)
	}
	if _, ok := ps.peers[p.ID()]; ok {
		return fmt.Errorf("peer %d already registered", p.ID())
	}
	ps.peers[p.ID()] = p
	connectedPeers.Set(float64(len(ps.peers)))
	return nil
}

func (ps *PeerSet) Remove(id PeerID) {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	delete(ps.peers, id)
	connectedPeers.Set(float64(len(ps.peers)))
}

func (ps *PeerSet) Get(id PeerID) (Peer, bool) {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	p, ok := ps.peers[id]
	return p, ok
}

func (ps *PeerSet) Len() int {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	return len(ps.peers)
}

// HasAddr 报告是否已经有连到 addr 的连接
func (ps *PeerSet) HasAddr(addr string) bool {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	for _, p := range ps.peers {
		if p.Addr() == addr {
			return true
		}
	}
	return false
}

func (ps *PeerSet) SendTo(id PeerID, msg wire.Message) error {
	p, ok := ps.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}
	return p.Send(msg)
}

// Broadcast 只发给已经收到 version 的节点
func (ps *PeerSet) Broadcast(msg wire.Message, except PeerID) int {
	ps.lock.RLock()
	defer ps.lock.RUnlock()

	sent := 0
	for id, p := range ps.peers {
		if id == except || p.Info().Version == 0 {
			continue
		}
		if err := p.Send(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"peer":    p.Addr(),
				"command": msg.Command(),
			}).Errorf("failed to broadcast to peer: %v", err)
			continue
		}
		sent++
	}
	return sent
}

// PeerInfos 按连接编号排序
func (ps *PeerSet) PeerInfos() []PeerInfo {
	ps.lock.RLock()
	infos := make([]PeerInfo, 0, len(ps.peers))
	for _, p := range ps.peers {
		infos = append(infos, p.Info())
	}
	ps.lock.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// CloseAll 关闭所有连接
func (ps *PeerSet) CloseAll() {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	for _, p := range ps.peers {
		p.Close()
	}
}
