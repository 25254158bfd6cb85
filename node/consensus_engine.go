package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/wire"
)

const (
	defaultBlockReward = 50 * 100_000_000
	defaultBlockBits   = 0x207fffff
	// maxBlockTxs 每个区块最多打包的交易池交易数
	maxBlockTxs = 2000
)

type ConsensusEngineOpts struct {
	Logger    log.Logger    // 可选
	BlockTime time.Duration // 必需，出块间隔
	// PayoutScript coinbase 输出脚本，可选
	PayoutScript []byte
	BlockChain   *core.BlockChain // 必需
	TxPool       *core.TxPool     // 必需
	Announcer    Announcer        // 必需
	Now          func() time.Time
}

// ConsensusEngine 按固定间隔在当前最佳块上打包交易池中的交易，只用于本地测试网络。
// 不计算工作量证明
type ConsensusEngine struct {
	logger       log.Logger
	blockTime    time.Duration
	payoutScript []byte
	blockChain   *core.BlockChain
	txPool       *core.TxPool
	announcer    Announcer
	now          func() time.Time
}

func NewConsensusEngine(opts ConsensusEngineOpts) (*ConsensusEngine, error) {
	if opts.BlockChain == nil {
		return nil, fmt.Errorf("blockchain dependency cannot be nil")
	}
	if opts.TxPool == nil {
		return nil, fmt.Errorf("transaction pool dependency cannot be nil")
	}
	if opts.Announcer == nil {
		return nil, fmt.Errorf("announcer cannot be nil")
	}
	if opts.BlockTime <= 0 {
		return nil, fmt.Errorf("block time must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ConsensusEngine{
		logger:       opts.Logger,
		blockTime:    opts.BlockTime,
		payoutScript: opts.PayoutScript,
		blockChain:   opts.BlockChain,
		txPool:       opts.TxPool,
		announcer:    opts.Announcer,
		now:          opts.Now,
	}, nil
}

func (ce *ConsensusEngine) Start(ctx context.Context) error {
	ticker := time.NewTicker(ce.blockTime)
	defer ticker.Stop()
	ce.logger.Log("msg", "starting consensus engine", "blockTime", ce.blockTime)

	for {
		select {
		case <-ticker.C:
			if _, err := ce.CreateBlock(); err != nil {
				ce.logger.Log("msg", "failed to create new block", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// CreateBlock 生成一个区块并加入主链
func (ce *ConsensusEngine) CreateBlock() (*wire.MsgBlock, error) {
	tip, tipHeight := ce.blockChain.BestTip()
	height := tipHeight + 1

	// coinbase 里写入高度，保证每个区块的 coinbase 交易不同
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, height)
	txx := []*wire.MsgTx{core.NewCoinbaseTx(data, defaultBlockReward, ce.payoutScript)}

	pending := ce.txPool.Transactions()
	if len(pending) > maxBlockTxs {
		pending = pending[:maxBlockTxs]
	}
	txx = append(txx, pending...)

	block := core.NewBlock(tip, uint32(ce.now().Unix()), defaultBlockBits, txx)
	added, err := ce.blockChain.AddBlock(block)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("block (%s) already known", block.BlockHash())
	}
	ce.txPool.RemoveBlock(block)
	ce.announcer.AnnounceBlock(block.BlockHash(), network.PeerID(0))

	ce.logger.Log("msg", "successfully created new block", "hash", block.BlockHash(), "height", height, "transactions", len(txx))
	return block, nil
}
