package node

import (
	"errors"
	"net/netip"
	"time"

	"github.com/go-kit/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/wire"
)

const (
	// maxBlocksPerInv getblocks 一次最多回复的区块数
	maxBlocksPerInv = 500

	defaultAddrBookSize = 2000
)

// AddressBook 最近听说过的节点地址
type AddressBook struct {
	addrs *lru.Cache[netip.AddrPort, wire.NetAddress]
	now   func() time.Time
}

func NewAddressBook(size int) (*AddressBook, error) {
	if size <= 0 {
		size = defaultAddrBookSize
	}
	addrs, err := lru.New[netip.AddrPort, wire.NetAddress](size)
	if err != nil {
		return nil, err
	}
	return &AddressBook{addrs: addrs, now: time.Now}, nil
}

// Add 忽略不可路由的地址，返回是否记录
func (b *AddressBook) Add(na wire.NetAddress) bool {
	ap := na.AddrPort()
	if !ap.IsValid() || ap.Port() == 0 || ap.Addr().IsUnspecified() {
		return false
	}
	if na.Timestamp == 0 {
		na.Timestamp = uint32(b.now().Unix())
	}
	b.addrs.Add(ap, na)
	return true
}

// Addresses 从新到旧，最多 max 个
func (b *AddressBook) Addresses(max int) []wire.NetAddress {
	keys := b.addrs.Keys()
	out := make([]wire.NetAddress, 0, min(max, len(keys)))
	for i := len(keys) - 1; i >= 0 && len(out) < max; i-- {
		if na, ok := b.addrs.Peek(keys[i]); ok {
			out = append(out, na)
		}
	}
	return out
}

func (b *AddressBook) Len() int {
	return b.addrs.Len()
}

// ChainService 应答对方的数据请求：区块清单、区块头、区块和交易内容、地址
type ChainService struct {
	logger     log.Logger
	blockChain *core.BlockChain
	txPool     *core.TxPool
	factory    *MessageFactory
	addrBook   *AddressBook
}

func NewChainService(logger log.Logger, bc *core.BlockChain, txPool *core.TxPool, factory *MessageFactory, book *AddressBook) *ChainService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ChainService{
		logger:     logger,
		blockChain: bc,
		txPool:     txPool,
		factory:    factory,
		addrBook:   book,
	}
}

// OnVersion 记下对方声明的监听地址，不认领消息
func (s *ChainService) OnVersion(ctx *network.HandlerContext, v *wire.MsgVersion) bool {
	if ctx.Peer.Inbound() {
		s.addrBook.Add(v.AddrFrom)
	}
	return false
}

// OnGetBlocks 以 inv 回复分叉点之后的区块哈希
func (s *ChainService) OnGetBlocks(ctx *network.HandlerContext, m *wire.MsgGetBlocks) bool {
	hashes := s.blockChain.LocateBlocks(m.BlockLocatorHashes, m.HashStop, maxBlocksPerInv)
	if len(hashes) == 0 {
		s.logger.Log("msg", "no blocks to announce", "peer", ctx.Peer.Addr())
		return true
	}
	inv, err := s.factory.BuildInventory(wire.InvTypeBlock, hashes)
	if err != nil {
		s.logger.Log("msg", "build inventory", "err", err)
		return true
	}
	s.logger.Log("msg", "sending block inventory", "peer", ctx.Peer.Addr(), "count", len(hashes))
	ctx.Send(inv)
	return true
}

func (s *ChainService) OnGetHeaders(ctx *network.HandlerContext, m *wire.MsgGetHeaders) bool {
	headers, err := s.blockChain.LocateHeaders(m.BlockLocatorHashes, m.HashStop, wire.MaxBlockHeadersPerMsg)
	if err != nil {
		s.logger.Log("msg", "locate headers", "peer", ctx.Peer.Addr(), "err", err)
		return true
	}
	reply := wire.NewMsgHeaders()
	reply.Headers = headers
	ctx.Send(reply)
	return true
}

// OnGetData 逐条发送区块或交易，找不到的放进一条 notfound
func (s *ChainService) OnGetData(ctx *network.HandlerContext, m *wire.MsgGetData) bool {
	notFound := wire.NewMsgNotFound()
	for _, iv := range m.InvList {
		var msg wire.Message
		switch iv.Type {
		case wire.InvTypeBlock:
			block, err := s.blockChain.GetBlock(iv.Hash)
			if err != nil && !errors.Is(err, core.ErrBlockNotFound) {
				s.logger.Log("msg", "read block", "hash", iv.Hash, "err", err)
			}
			if block != nil {
				msg = block
			}
		case wire.InvTypeTx:
			if tx := s.findTx(iv); tx != nil {
				msg = tx
			}
		}
		if msg == nil {
			notFound.AddInvVect(iv)
			continue
		}
		ctx.Send(msg)
	}
	if len(notFound.InvList) > 0 {
		ctx.Send(notFound)
	}
	return true
}

// findTx 先查交易池，再查主链区块
func (s *ChainService) findTx(iv *wire.InvVect) *wire.MsgTx {
	if tx, ok := s.txPool.Get(iv.Hash); ok {
		return tx
	}
	blockHash, err := s.blockChain.TransactionBlock(iv.Hash)
	if err != nil {
		return nil
	}
	block, err := s.blockChain.GetBlock(blockHash)
	if err != nil {
		s.logger.Log("msg", "read block for tx", "hash", iv.Hash, "block", blockHash, "err", err)
		return nil
	}
	for _, tx := range block.Transactions {
		if tx.TxHash() == iv.Hash {
			return tx
		}
	}
	return nil
}

func (s *ChainService) OnGetAddr(ctx *network.HandlerContext, _ *wire.MsgGetAddr) bool {
	addrs := s.addrBook.Addresses(wire.MaxAddrPerMsg)
	if len(addrs) == 0 {
		return true
	}
	ctx.Send(&wire.MsgAddr{AddrList: addrs})
	return true
}

func (s *ChainService) OnAddr(ctx *network.HandlerContext, m *wire.MsgAddr) bool {
	added := 0
	for _, na := range m.AddrList {
		if s.addrBook.Add(na) {
			added++
		}
	}
	s.logger.Log("msg", "received addresses", "peer", ctx.Peer.Addr(), "count", len(m.AddrList), "added", added)
	return true
}
