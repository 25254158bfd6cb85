package node

import (
	"fmt"
	"math"
	"math/rand"
	"net/netip"
	"time"

	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// ChainState 消息构造所需的只读链状态
type ChainState interface {
	BestHeight() uint32
	BlockLocator() []types.Hash
	HasBlock(hash types.Hash) bool
	HasTransaction(hash types.Hash) bool
}

type MessageFactoryOpts struct {
	Chain     ChainState
	Services  uint64
	UserAgent string
	// SelfAddr 写进 version 的本机地址
	SelfAddr netip.AddrPort
	Relay    bool
	Now      func() time.Time
	// Nonce 在构造时调用一次，用来识别连到自己的连接
	Nonce func() uint64
}

// MessageFactory 根据链状态构造请求消息，不做任何 I/O
type MessageFactory struct {
	chain     ChainState
	services  uint64
	userAgent string
	self      netip.AddrPort
	relay     bool
	now       func() time.Time
	nonce     uint64
}

func NewMessageFactory(opts MessageFactoryOpts) *MessageFactory {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Nonce == nil {
		opts.Nonce = rand.Uint64
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if !opts.SelfAddr.IsValid() {
		opts.SelfAddr = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	}
	return &MessageFactory{
		chain:     opts.Chain,
		services:  opts.Services,
		userAgent: opts.UserAgent,
		self:      opts.SelfAddr,
		relay:     opts.Relay,
		now:       opts.Now,
		nonce:     opts.Nonce(),
	}
}

// Nonce 本节点 version 消息使用的 nonce
func (f *MessageFactory) Nonce() uint64 {
	return f.nonce
}

// BuildGetBlocks 以当前链的定位器请求到 target 为止的区块，target 为零表示尽可能多
func (f *MessageFactory) BuildGetBlocks(target types.Hash) *wire.MsgGetBlocks {
	return f.BuildGetBlocksFrom(f.chain.BlockLocator(), target)
}

// BuildGetBlocksFrom 使用给定的定位器
func (f *MessageFactory) BuildGetBlocksFrom(locator []types.Hash, target types.Hash) *wire.MsgGetBlocks {
	msg := wire.NewMsgGetBlocks(target)
	for _, hash := range locator {
		if msg.AddBlockLocatorHash(hash) != nil {
			break
		}
	}
	return msg
}

func (f *MessageFactory) BuildGetHeaders(locator []types.Hash, hashStop types.Hash) *wire.MsgGetHeaders {
	msg := wire.NewMsgGetHeaders()
	msg.HashStop = hashStop
	for _, hash := range locator {
		if msg.AddBlockLocatorHash(hash) != nil {
			break
		}
	}
	return msg
}

// BuildInventory 所有向量使用同一种类型
func (f *MessageFactory) BuildInventory(kind wire.InvType, hashes []types.Hash) (*wire.MsgInv, error) {
	if len(hashes) > wire.MaxInvPerMsg {
		return nil, fmt.Errorf("%d inventory vectors exceed the limit of %d", len(hashes), wire.MaxInvPerMsg)
	}
	msg := wire.NewMsgInv()
	msg.InvList = make([]*wire.InvVect, 0, len(hashes))
	for _, hash := range hashes {
		msg.InvList = append(msg.InvList, wire.NewInvVect(kind, hash))
	}
	return msg, nil
}

// BuildVersion 链高度超过 int32 时 panic
func (f *MessageFactory) BuildVersion(remote netip.AddrPort) *wire.MsgVersion {
	height := f.chain.BestHeight()
	if height > math.MaxInt32 {
		panic(fmt.Sprintf("best height %d does not fit in the version message", height))
	}
	if !remote.IsValid() {
		remote = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	}
	return &wire.MsgVersion{
		ProtocolVersion: wire.ProtocolVersion,
		Services:        f.services,
		Timestamp:       f.now().Unix(),
		AddrRecv:        wire.NewNetAddress(remote, 0),
		AddrFrom:        wire.NewNetAddress(f.self, f.services),
		Nonce:           f.nonce,
		UserAgent:       f.userAgent,
		StartHeight:     int32(height),
		Relay:           f.relay,
	}
}
