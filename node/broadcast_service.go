package node

import (
	"context"

	"github.com/go-kit/log"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

const announceQueueSize = 256

type announcement struct {
	hash   types.Hash
	origin network.PeerID
}

// BroadcastService 把新接受的区块和交易以 inv 宣告给除来源以外的节点
type BroadcastService struct {
	logger  log.Logger
	comm    network.Communicator
	factory *MessageFactory

	blockChan chan announcement
	txChan    chan announcement
}

func NewBroadcastService(l log.Logger, comm network.Communicator, factory *MessageFactory) *BroadcastService {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &BroadcastService{
		logger:    l,
		comm:      comm,
		factory:   factory,
		blockChan: make(chan announcement, announceQueueSize),
		txChan:    make(chan announcement, announceQueueSize),
	}
}

// AnnounceBlock 不阻塞，队列满时丢弃
func (bs *BroadcastService) AnnounceBlock(hash types.Hash, origin network.PeerID) {
	select {
	case bs.blockChan <- announcement{hash: hash, origin: origin}:
	default:
		bs.logger.Log("msg", "block announcement queue full, dropping", "hash", hash)
	}
}

// AnnounceTx 不阻塞，队列满时丢弃
func (bs *BroadcastService) AnnounceTx(hash types.Hash, origin network.PeerID) {
	select {
	case bs.txChan <- announcement{hash: hash, origin: origin}:
	default:
		bs.logger.Log("msg", "tx announcement queue full, dropping", "hash", hash)
	}
}

// Start 广播服务的主循环，ctx 结束时返回
func (bs *BroadcastService) Start(ctx context.Context) error {
	bs.logger.Log("msg", "starting broadcast service")
	for {
		select {
		case a := <-bs.blockChan:
			bs.broadcast(wire.InvTypeBlock, a)
		case a := <-bs.txChan:
			bs.broadcast(wire.InvTypeTx, a)
		case <-ctx.Done():
			return nil
		}
	}
}

func (bs *BroadcastService) broadcast(kind wire.InvType, a announcement) {
	inv, err := bs.factory.BuildInventory(kind, []types.Hash{a.hash})
	if err != nil {
		bs.logger.Log("msg", "failed to build inventory", "err", err)
		return
	}
	n := bs.comm.Broadcast(inv, a.origin)
	bs.logger.Log("msg", "broadcast inventory", "type", kind, "hash", a.hash, "peers", n)
}
