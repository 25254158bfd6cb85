package node

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/wire"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultGCInterval   = 10 * time.Minute
	gcDiscardRatio      = 0.5
	seedStableDuration  = time.Minute
	seedMaxRetryBackoff = 5 * time.Minute
)

type NodeOpts struct {
	Logger     log.Logger
	Magic      wire.Magic
	ListenAddr string
	// Seeds 启动时主动连接并保持连接的节点
	Seeds    []string
	MaxPeers int
	// TxPoolLimit 交易池上限，0 使用默认值
	TxPoolLimit int
	DB          storage.Database
	Records     core.RecordStore
	Genesis     *wire.MsgBlock
	// ExternalAddr 写进 version 的本机地址
	ExternalAddr netip.AddrPort
	UserAgent    string
	InboundRate  rate.Limit
	// BlockTime 大于 0 时启用本地出块
	BlockTime  time.Duration
	GCInterval time.Duration
}

// Node 把链、交易池、网络和各个处理器组装在一起
type Node struct {
	logger     log.Logger
	db         storage.Database
	seeds      []string
	gcInterval time.Duration

	blockChain       *core.BlockChain
	txPool           *core.TxPool
	peers            *network.PeerSet
	server           *network.Server
	factory          *MessageFactory
	handshake        *Handshake
	syncController   *SyncController
	chainService     *ChainService
	broadcastService *BroadcastService
	consensusEngine  *ConsensusEngine
	dispatcher       *network.Dispatcher

	fatal chan error
}

func NewNode(opts NodeOpts) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.DB == nil || opts.Records == nil {
		return nil, fmt.Errorf("database and record store are required")
	}
	if opts.GCInterval == 0 {
		opts.GCInterval = defaultGCInterval
	}

	bc, err := core.NewBlockChain(core.BlockChainOpts{
		Logger:  log.With(opts.Logger, "module", "chain"),
		DB:      opts.DB,
		Records: opts.Records,
		Genesis: opts.Genesis,
	})
	if err != nil {
		return nil, err
	}
	book, err := NewAddressBook(defaultAddrBookSize)
	if err != nil {
		return nil, err
	}

	n := &Node{
		logger:     opts.Logger,
		db:         opts.DB,
		seeds:      opts.Seeds,
		gcInterval: opts.GCInterval,
		blockChain: bc,
		txPool:     core.NewTxPoolWithLimit(opts.TxPoolLimit),
		peers:      network.NewPeerSet(opts.MaxPeers),
		fatal:      make(chan error, 1),
	}
	n.factory = NewMessageFactory(MessageFactoryOpts{
		Chain:     bc,
		Services:  wire.SFNodeNetwork,
		UserAgent: opts.UserAgent,
		SelfAddr:  opts.ExternalAddr,
		Relay:     true,
	})
	n.broadcastService = NewBroadcastService(log.With(opts.Logger, "module", "broadcast"), n.peers, n.factory)
	n.handshake = NewHandshake(log.With(opts.Logger, "module", "handshake"), n.factory)
	n.handshake.OnComplete = func(ctx *network.HandlerContext) {
		if !ctx.Peer.Inbound() {
			ctx.Send(&wire.MsgGetAddr{})
		}
	}
	n.syncController = NewSyncController(SyncControllerOpts{
		Logger:    log.With(opts.Logger, "module", "sync"),
		Chain:     bc,
		TxPool:    n.txPool,
		Factory:   n.factory,
		Announcer: n.broadcastService,
		OnFatal:   n.reportFatal,
	})
	n.chainService = NewChainService(log.With(opts.Logger, "module", "chain-service"), bc, n.txPool, n.factory, book)

	if opts.BlockTime > 0 {
		n.consensusEngine, err = NewConsensusEngine(ConsensusEngineOpts{
			Logger:     log.With(opts.Logger, "module", "consensus"),
			BlockTime:  opts.BlockTime,
			BlockChain: bc,
			TxPool:     n.txPool,
			Announcer:  n.broadcastService,
		})
		if err != nil {
			return nil, err
		}
	}

	n.dispatcher = n.buildDispatcher()
	n.server = network.NewServer(network.ServerOpts{
		ListenAddr:  opts.ListenAddr,
		Magic:       opts.Magic,
		Dispatcher:  n.dispatcher,
		Peers:       n.peers,
		InboundRate: opts.InboundRate,
		OnConnect:   n.handshake.OnConnect,
	})
	return n, nil
}

// buildDispatcher 注册顺序即执行顺序：握手在前，区块同步在后
func (n *Node) buildDispatcher() *network.Dispatcher {
	hs, sc, cs := n.handshake, n.syncController, n.chainService
	return &network.Dispatcher{
		Version: network.Chain[*wire.MsgVersion]{hs.OnVersion, cs.OnVersion, sc.OnVersion},
		VerAck:  network.Chain[*wire.MsgVerAck]{hs.OnVerAck},
		Ping:    network.Chain[*wire.MsgPing]{hs.OnPing},
		Pong:    network.Chain[*wire.MsgPong]{hs.OnPong},

		Addr:       network.Guard[*wire.MsgAddr](Required[*wire.MsgAddr], cs.OnAddr),
		GetAddr:    network.Guard[*wire.MsgGetAddr](Required[*wire.MsgGetAddr], cs.OnGetAddr),
		GetBlocks:  network.Guard[*wire.MsgGetBlocks](Required[*wire.MsgGetBlocks], cs.OnGetBlocks),
		GetHeaders: network.Guard[*wire.MsgGetHeaders](Required[*wire.MsgGetHeaders], cs.OnGetHeaders),
		GetData:    network.Guard[*wire.MsgGetData](Required[*wire.MsgGetData], cs.OnGetData),

		Inv:      network.Guard[*wire.MsgInv](Required[*wire.MsgInv], sc.OnInv),
		Headers:  network.Guard[*wire.MsgHeaders](Required[*wire.MsgHeaders], sc.OnHeaders),
		NotFound: network.Guard[*wire.MsgNotFound](Required[*wire.MsgNotFound], sc.OnNotFound),
		Block:    network.Guard[*wire.MsgBlock](Required[*wire.MsgBlock], sc.OnBlock),
		Tx:       network.Guard[*wire.MsgTx](Required[*wire.MsgTx], sc.OnTx),

		Unknown: network.Chain[*wire.MsgUnknown]{n.onUnknown},
	}
}

func (n *Node) onUnknown(ctx *network.HandlerContext, m *wire.MsgUnknown) bool {
	level.Debug(n.logger).Log("msg", "ignoring unknown command", "peer", ctx.Peer.Addr(), "command", m.Cmd, "size", len(m.Payload))
	return true
}

// reportFatal 只保留第一个致命错误，Run 收到后结束
func (n *Node) reportFatal(err error) {
	select {
	case n.fatal <- err:
	default:
	}
}

func (n *Node) BlockChain() *core.BlockChain        { return n.blockChain }
func (n *Node) TxPool() *core.TxPool                { return n.txPool }
func (n *Node) Peers() *network.PeerSet             { return n.peers }
func (n *Node) Server() *network.Server             { return n.server }
func (n *Node) Dispatcher() *network.Dispatcher     { return n.dispatcher }
func (n *Node) ConsensusEngine() *ConsensusEngine   { return n.consensusEngine }
func (n *Node) BroadcastService() *BroadcastService { return n.broadcastService }

// Run 启动所有服务，ctx 结束或出现致命错误时返回
func (n *Node) Run(ctx context.Context) error {
	n.logger.Log("msg", "starting node", "height", n.blockChain.BestHeight(), "best", n.blockChain.BestHash())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.server.ListenAndServe(ctx) })
	g.Go(func() error { return n.broadcastService.Start(ctx) })
	if n.consensusEngine != nil {
		g.Go(func() error { return n.consensusEngine.Start(ctx) })
	}
	for _, seed := range n.seeds {
		seed := seed
		g.Go(func() error { return n.maintainSeed(ctx, seed) })
	}
	if gc, ok := n.db.(garbageCollector); ok && n.gcInterval > 0 {
		g.Go(func() error { return n.runGC(ctx, gc) })
	}
	g.Go(func() error {
		select {
		case err := <-n.fatal:
			return fmt.Errorf("fatal: %w", err)
		case <-ctx.Done():
			return nil
		}
	})
	return g.Wait()
}

// maintainSeed 连接断开后按指数退避重连
func (n *Node) maintainSeed(ctx context.Context, addr string) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxInterval = seedMaxRetryBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(eb, ctx)

	for {
		start := time.Now()
		err := n.server.DialAndServe(ctx, addr)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > seedStableDuration {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		n.logger.Log("msg", "seed connection closed", "addr", addr, "err", err, "retry", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

type garbageCollector interface {
	RunGC(discardRatio float64) error
}

func (n *Node) runGC(ctx context.Context, gc garbageCollector) error {
	ticker := time.NewTicker(n.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := gc.RunGC(gcDiscardRatio); err != nil {
				n.logger.Log("msg", "value log gc", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
