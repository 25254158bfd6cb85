package node

import (
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// Chain 区块同步需要的链操作
type Chain interface {
	ChainState
	AddBlock(b *wire.MsgBlock) (bool, error)
	BlockLocatorFrom(hash types.Hash) []types.Hash
}

// Announcer 把新接受的区块或交易宣告给其他节点
type Announcer interface {
	AnnounceBlock(hash types.Hash, origin network.PeerID)
	AnnounceTx(hash types.Hash, origin network.PeerID)
}

type SyncControllerOpts struct {
	Logger    log.Logger
	Chain     Chain
	TxPool    *core.TxPool
	Factory   *MessageFactory
	Announcer Announcer
	// NewBackOff 存储暂时不可用时的重试策略
	NewBackOff func() backoff.BackOff
	// OnFatal 存储损坏等无法继续运行的错误
	OnFatal func(error)
}

// SyncController 初始区块下载。本身不保存状态，每个连接的进度保存在 HandlerContext.Sync 中
type SyncController struct {
	logger     log.Logger
	chain      Chain
	txPool     *core.TxPool
	factory    *MessageFactory
	announcer  Announcer
	newBackOff func() backoff.BackOff
	onFatal    func(error)
}

func NewSyncController(opts SyncControllerOpts) *SyncController {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		}
	}
	if opts.OnFatal == nil {
		opts.OnFatal = func(error) {}
	}
	return &SyncController{
		logger:     opts.Logger,
		chain:      opts.Chain,
		txPool:     opts.TxPool,
		factory:    opts.Factory,
		announcer:  opts.Announcer,
		newBackOff: opts.NewBackOff,
		onFatal:    opts.OnFatal,
	}
}

func (s *SyncController) behind(ctx *network.HandlerContext) bool {
	return int64(s.chain.BestHeight()) < int64(ctx.Sync.PeerHeight)
}

// requestBlocks 发送 getblocks，与上一次请求完全相同时跳过
func (s *SyncController) requestBlocks(ctx *network.HandlerContext, locator []types.Hash, stop types.Hash) {
	var begin types.Hash
	if len(locator) > 0 {
		begin = locator[0]
	}
	if !ctx.Sync.ShouldRequest(begin, stop) {
		return
	}
	s.logger.Log("msg", "requesting blocks", "peer", ctx.Peer.Addr(), "from", begin, "stop", stop)
	ctx.Send(s.factory.BuildGetBlocksFrom(locator, stop))
}

// OnVersion 必须注册在握手处理器之后。对方更高时开始下载
func (s *SyncController) OnVersion(ctx *network.HandlerContext, v *wire.MsgVersion) bool {
	if s.behind(ctx) {
		s.logger.Log(
			"msg", "starting sync with peer",
			"peer", ctx.Peer.Addr(),
			"peerHeight", v.StartHeight,
			"height", s.chain.BestHeight(),
		)
		s.requestBlocks(ctx, s.chain.BlockLocator(), types.ZeroHash)
	}
	return true
}

// addBlock 存储暂时不可用时按退避策略重试
func (s *SyncController) addBlock(ctx *network.HandlerContext, b *wire.MsgBlock) (bool, error) {
	var added bool
	op := func() error {
		var err error
		added, err = s.chain.AddBlock(b)
		if err != nil && !storage.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Log("msg", "storage unavailable, retrying", "hash", b.BlockHash(), "wait", wait, "err", err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx.Context()), notify)
	return added, err
}

func (s *SyncController) OnBlock(ctx *network.HandlerContext, b *wire.MsgBlock) bool {
	hash := b.BlockHash()
	ctx.Sync.Received(hash)

	added, err := s.addBlock(ctx, b)
	switch {
	case errors.Is(err, core.ErrOrphanBlock):
		s.logger.Log("msg", "orphan block, requesting missing ancestors", "peer", ctx.Peer.Addr(), "hash", hash)
		s.requestBlocks(ctx, s.chain.BlockLocator(), hash)
		return true
	case errors.Is(err, storage.ErrCorruptRecord):
		s.logger.Log("msg", "block storage corrupt", "hash", hash, "err", err)
		s.onFatal(err)
		ctx.Fail(err)
		return true
	case errors.Is(err, core.ErrInvalidBlock):
		ctx.Violation("invalid block %s: %v", hash, err)
		return true
	case err != nil:
		s.logger.Log("msg", "failed to add block", "peer", ctx.Peer.Addr(), "hash", hash, "err", err)
		return true
	}

	if added {
		s.txPool.RemoveBlock(b)
		if s.announcer != nil {
			s.announcer.AnnounceBlock(hash, ctx.Peer.ID())
		}
		if h := s.chain.BestHeight(); int64(h) > int64(ctx.Sync.PeerHeight) && h <= math.MaxInt32 {
			ctx.Sync.PeerHeight = int32(h)
		}
	}

	if ctx.Sync.InFlight() == 0 && s.behind(ctx) {
		s.requestBlocks(ctx, s.chain.BlockLocator(), types.ZeroHash)
	}
	return true
}

func (s *SyncController) OnTx(ctx *network.HandlerContext, tx *wire.MsgTx) bool {
	hash := tx.TxHash()
	if s.txPool.Has(hash) || s.chain.HasTransaction(hash) {
		return true
	}
	if !s.txPool.Add(tx) {
		if s.txPool.Full() {
			s.logger.Log("msg", "tx pool full, dropping tx", "hash", hash, "peer", ctx.Peer.Addr())
		}
		return true
	}
	s.logger.Log("msg", "adding new tx to pool", "hash", hash, "pool", s.txPool.Len())
	if s.announcer != nil {
		s.announcer.AnnounceTx(hash, ctx.Peer.ID())
	}
	return true
}

// OnInv 请求缺少的条目。最后一个区块已知时说明对方的清单落后于我们，从该块继续请求
func (s *SyncController) OnInv(ctx *network.HandlerContext, inv *wire.MsgInv) bool {
	getData := wire.NewMsgGetData()
	var lastBlock *wire.InvVect
	for _, iv := range inv.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			lastBlock = iv
			if ctx.Sync.IsInFlight(iv.Hash) || s.chain.HasBlock(iv.Hash) {
				continue
			}
			ctx.Sync.MarkInFlight(iv.Hash)
		case wire.InvTypeTx:
			if s.txPool.Has(iv.Hash) || s.chain.HasTransaction(iv.Hash) {
				continue
			}
		default:
			continue
		}
		getData.AddInvVect(iv)
	}

	if len(getData.InvList) > 0 {
		ctx.Send(getData)
	}
	if lastBlock != nil && s.chain.HasBlock(lastBlock.Hash) {
		s.requestBlocks(ctx, s.chain.BlockLocatorFrom(lastBlock.Hash), types.ZeroHash)
	}
	return true
}

// OnHeaders 请求未知区块；收到满批时继续请求后面的区块头
func (s *SyncController) OnHeaders(ctx *network.HandlerContext, m *wire.MsgHeaders) bool {
	getData := wire.NewMsgGetData()
	for _, header := range m.Headers {
		hash := header.BlockHash()
		if ctx.Sync.IsInFlight(hash) || s.chain.HasBlock(hash) {
			continue
		}
		ctx.Sync.MarkInFlight(hash)
		getData.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, hash))
	}
	if len(getData.InvList) > 0 {
		ctx.Send(getData)
	}
	if len(m.Headers) == wire.MaxBlockHeadersPerMsg {
		last := m.Headers[len(m.Headers)-1].BlockHash()
		ctx.Send(s.factory.BuildGetHeaders([]types.Hash{last}, types.ZeroHash))
	}
	return true
}

// OnNotFound 对方没有的区块不再等待。在途集合因此清空而仍落后时重新发 getblocks，
// 与上一次请求相同也照发
func (s *SyncController) OnNotFound(ctx *network.HandlerContext, m *wire.MsgNotFound) bool {
	cleared := false
	for _, iv := range m.InvList {
		if iv.Type == wire.InvTypeBlock && ctx.Sync.Received(iv.Hash) {
			cleared = true
		}
	}
	if cleared && ctx.Sync.InFlight() == 0 && s.behind(ctx) {
		getBlocks := s.factory.BuildGetBlocks(types.ZeroHash)
		ctx.Sync.ShouldRequest(getBlocks.BlockLocatorHashes[0], types.ZeroHash)
		s.logger.Log("msg", "blocks not found, requesting again", "peer", ctx.Peer.Addr(), "height", s.chain.BestHeight())
		ctx.Send(getBlocks)
	}
	return true
}
