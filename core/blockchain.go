package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

var (
	ErrOrphanBlock   = errors.New("orphan block")
	ErrBlockNotFound = errors.New("block not found")
)

const (
	defaultKnownBlockCacheSize = 10000

	// locator 中前 10 个哈希逐个后退，之后步长翻倍
	locatorDenseSteps = 10
)

// RecordStore 区块数据的追加存储
type RecordStore interface {
	Append(data []byte) (storage.RecordLocator, error)
	Read(loc storage.RecordLocator) ([]byte, error)
}

type BlockChainOpts struct {
	Logger    log.Logger
	DB        storage.Database
	Records   RecordStore
	Genesis   *wire.MsgBlock
	Validator Validator
	// KnownBlockCacheSize HasBlock 前面的 LRU 大小
	KnownBlockCacheSize int
}

// BlockChain 区块索引。区块数据写入记录文件，索引写入键值库：
//
//	b|hash       -> 高度、区块头、记录位置、是否主链
//	h|height(BE) -> 主链上该高度的区块哈希
//	t|txhash     -> 包含该交易的主链区块哈希
//	B            -> 最佳区块哈希
//
// 不做分叉选择：只有父块是当前最佳块时才推进主链，其余区块作为侧链保存
type BlockChain struct {
	logger    log.Logger
	db        storage.Database
	records   RecordStore
	validator Validator

	lock sync.RWMutex
	// hashes 主链上每个高度的区块哈希，启动时从 h| 前缀加载
	hashes []types.Hash
	known  *lru.Cache[types.Hash, struct{}]
}

func NewBlockChain(opts BlockChainOpts) (*BlockChain, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Validator == nil {
		opts.Validator = NewBlockValidator()
	}
	if opts.KnownBlockCacheSize <= 0 {
		opts.KnownBlockCacheSize = defaultKnownBlockCacheSize
	}
	known, err := lru.New[types.Hash, struct{}](opts.KnownBlockCacheSize)
	if err != nil {
		return nil, err
	}

	bc := &BlockChain{
		logger:    opts.Logger,
		db:        opts.DB,
		records:   opts.Records,
		validator: opts.Validator,
		known:     known,
	}

	if err := bc.loadMainChain(); err != nil {
		return nil, err
	}
	if len(bc.hashes) == 0 {
		if opts.Genesis == nil {
			return nil, fmt.Errorf("empty block index and no genesis block")
		}
		bc.logger.Log("msg", "database empty, adding genesis block", "hash", opts.Genesis.BlockHash())
		if err := bc.addGenesis(opts.Genesis); err != nil {
			return nil, err
		}
		return bc, nil
	}
	if opts.Genesis != nil && opts.Genesis.BlockHash() != bc.hashes[0] {
		return nil, fmt.Errorf("stored genesis %s does not match configured genesis %s", bc.hashes[0], opts.Genesis.BlockHash())
	}
	return bc, nil
}

// loadMainChain 按高度顺序加载主链哈希，并与最佳块记录核对
func (bc *BlockChain) loadMainChain() error {
	it := bc.db.Seek(blockHeightPrefixB)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		height := uint32(len(bc.hashes))
		if string(key) != string(blockHeightKey(height)) {
			return storage.Corrupt("main chain index has a gap at height %d", height)
		}
		hash, err := types.HashFromBytes(it.Value())
		if err != nil {
			return storage.Corrupt("main chain hash at height %d: %v", height, err)
		}
		bc.hashes = append(bc.hashes, hash)
	}
	if err := it.Err(); err != nil {
		return err
	}
	if len(bc.hashes) == 0 {
		return nil
	}

	best, err := bc.db.Get(bestBlockKeyB)
	if err != nil {
		return fmt.Errorf("load best block: %w", err)
	}
	if tip := bc.hashes[len(bc.hashes)-1]; string(best) != string(tip[:]) {
		return storage.Corrupt("best block %x does not match main chain tip %s", best, tip)
	}
	bc.logger.Log("msg", "loaded main chain from disk", "height", len(bc.hashes)-1, "best", bc.hashes[len(bc.hashes)-1])
	return nil
}

func (bc *BlockChain) addGenesis(genesis *wire.MsgBlock) error {
	if err := bc.validator.ValidateBlock(genesis); err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	bc.lock.Lock()
	defer bc.lock.Unlock()
	return bc.storeBlock(genesis, 0, true)
}

// AddBlock 保存一个区块。已知区块直接返回 false；父块未知返回 ErrOrphanBlock
func (bc *BlockChain) AddBlock(b *wire.MsgBlock) (bool, error) {
	hash := b.BlockHash()

	bc.lock.Lock()
	defer bc.lock.Unlock()

	known, err := bc.hasBlock(hash)
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}

	parent, err := bc.entry(b.Header.PrevBlock)
	if errors.Is(err, ErrBlockNotFound) {
		return false, fmt.Errorf("%w: block (%s) parent (%s) unknown", ErrOrphanBlock, hash, b.Header.PrevBlock)
	}
	if err != nil {
		return false, err
	}

	if err := bc.validator.ValidateBlock(b); err != nil {
		return false, err
	}

	extendsTip := b.Header.PrevBlock == bc.hashes[len(bc.hashes)-1]
	if err := bc.storeBlock(b, parent.height+1, extendsTip); err != nil {
		return false, err
	}
	return true, nil
}

// storeBlock 先追加区块数据，再在一个事务里写入全部索引。调用方持有写锁
func (bc *BlockChain) storeBlock(b *wire.MsgBlock, height uint32, main bool) error {
	hash := b.BlockHash()
	payload, err := wire.EncodeMessage(b)
	if err != nil {
		return err
	}
	loc, err := bc.records.Append(payload)
	if err != nil {
		return fmt.Errorf("append block (%s): %w", hash, err)
	}

	entry := &blockEntry{height: height, header: b.Header, locator: loc, main: main}
	value, err := entry.encode()
	if err != nil {
		return err
	}

	err = storage.Update(context.Background(), bc.db, func(txn storage.Txn) error {
		if err := txn.Put(blockKey(hash), value); err != nil {
			return err
		}
		if !main {
			return nil
		}
		if err := txn.Put(blockHeightKey(height), hash[:]); err != nil {
			return err
		}
		for _, txHash := range b.TxHashes() {
			if err := txn.Put(txKey(txHash), hash[:]); err != nil {
				return err
			}
		}
		return txn.Put(bestBlockKeyB, hash[:])
	})
	if err != nil {
		return fmt.Errorf("index block (%s): %w", hash, err)
	}

	bc.known.Add(hash, struct{}{})
	blocksPersisted.Inc()
	if main {
		bc.hashes = append(bc.hashes, hash)
		bestHeight.Set(float64(height))
	}
	bc.logger.Log(
		"msg", "add block",
		"hash", hash,
		"height", height,
		"transactions", len(b.Transactions),
		"main", main,
		"record", loc,
	)
	return nil
}

func (bc *BlockChain) entry(hash types.Hash) (*blockEntry, error) {
	value, err := bc.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return decodeBlockEntry(value)
}

func (bc *BlockChain) hasBlock(hash types.Hash) (bool, error) {
	if bc.known.Contains(hash) {
		return true, nil
	}
	ok, err := bc.db.Has(blockKey(hash))
	if err != nil {
		return false, err
	}
	if ok {
		bc.known.Add(hash, struct{}{})
	}
	return ok, nil
}

// HasBlock 主链和侧链上的区块都算已知
func (bc *BlockChain) HasBlock(hash types.Hash) bool {
	ok, err := bc.hasBlock(hash)
	if err != nil {
		bc.logger.Log("msg", "has block", "hash", hash, "err", err)
		return false
	}
	return ok
}

// HasTransaction 只查询主链区块中的交易
func (bc *BlockChain) HasTransaction(hash types.Hash) bool {
	ok, err := bc.db.Has(txKey(hash))
	if err != nil {
		bc.logger.Log("msg", "has transaction", "hash", hash, "err", err)
		return false
	}
	return ok
}

// TransactionBlock 返回包含该交易的主链区块哈希
func (bc *BlockChain) TransactionBlock(hash types.Hash) (types.Hash, error) {
	value, err := bc.db.Get(txKey(hash))
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(value)
}

func (bc *BlockChain) BestHeight() uint32 {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return uint32(len(bc.hashes) - 1)
}

func (bc *BlockChain) BestHash() types.Hash {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.hashes[len(bc.hashes)-1]
}

// BestTip 在同一把锁下返回主链末端的哈希和高度
func (bc *BlockChain) BestTip() (types.Hash, uint32) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.hashes[len(bc.hashes)-1], uint32(len(bc.hashes) - 1)
}

func (bc *BlockChain) GenesisHash() types.Hash {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.hashes[0]
}

func (bc *BlockChain) BlockHashByHeight(height uint32) (types.Hash, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	if height >= uint32(len(bc.hashes)) {
		return types.Hash{}, fmt.Errorf("%w: given height (%d) too high", ErrBlockNotFound, height)
	}
	return bc.hashes[height], nil
}

// BlockHeight 返回已知区块（主链或侧链）的高度
func (bc *BlockChain) BlockHeight(hash types.Hash) (uint32, error) {
	e, err := bc.entry(hash)
	if err != nil {
		return 0, err
	}
	return e.height, nil
}

func (bc *BlockChain) GetHeader(hash types.Hash) (*wire.BlockHeader, error) {
	e, err := bc.entry(hash)
	if err != nil {
		return nil, err
	}
	return &e.header, nil
}

// GetBlock 从记录文件读出完整区块
func (bc *BlockChain) GetBlock(hash types.Hash) (*wire.MsgBlock, error) {
	e, err := bc.entry(hash)
	if err != nil {
		return nil, err
	}
	payload, err := bc.records.Read(e.locator)
	if err != nil {
		return nil, fmt.Errorf("read block (%s): %w", hash, err)
	}
	msg, err := wire.DecodeMessage(wire.CmdBlock, payload)
	if err != nil {
		return nil, storage.Corrupt("block (%s) at %s: %v", hash, e.locator, err)
	}
	block := msg.(*wire.MsgBlock)
	if block.BlockHash() != hash {
		return nil, storage.Corrupt("record %s holds block %s, want %s", e.locator, block.BlockHash(), hash)
	}
	return block, nil
}

// BlockLocator 从最佳块开始的区块定位器
func (bc *BlockChain) BlockLocator() []types.Hash {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return bc.mainLocator(uint32(len(bc.hashes) - 1))
}

// BlockLocatorFrom 从 hash 开始的区块定位器。侧链区块先放自己，再接上分叉点以下的主链；
// hash 未知时退化为 BlockLocator
func (bc *BlockChain) BlockLocatorFrom(hash types.Hash) []types.Hash {
	e, err := bc.entry(hash)
	if err != nil {
		return bc.BlockLocator()
	}

	var locator []types.Hash
	if !e.main {
		locator = append(locator, hash)
		for !e.main {
			if e, err = bc.entry(e.header.PrevBlock); err != nil {
				return bc.BlockLocator()
			}
		}
	}

	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return append(locator, bc.mainLocator(e.height)...)
}

// mainLocator 前 10 个高度逐个后退，之后步长每次翻倍，最后一个总是创世块。调用方持有读锁
func (bc *BlockChain) mainLocator(height uint32) []types.Hash {
	locator := make([]types.Hash, 0, locatorDenseSteps+32)
	step := uint32(1)
	h := int64(height)
	for {
		locator = append(locator, bc.hashes[h])
		if h == 0 {
			break
		}
		if len(locator) >= locatorDenseSteps {
			step *= 2
		}
		h -= int64(step)
		if h < 0 {
			h = 0
		}
	}
	return locator
}

// findFork 返回定位器中第一个位于主链上的区块高度，没有时返回 0（创世块）
func (bc *BlockChain) findFork(locator []types.Hash) uint32 {
	for _, hash := range locator {
		e, err := bc.entry(hash)
		if err != nil || !e.main {
			continue
		}
		return e.height
	}
	return 0
}

// LocateBlocks 返回分叉点之后的主链区块哈希，到 hashStop（包含）或 limit 个为止
func (bc *BlockChain) LocateBlocks(locator []types.Hash, hashStop types.Hash, limit int) []types.Hash {
	fork := bc.findFork(locator)

	bc.lock.RLock()
	defer bc.lock.RUnlock()
	var hashes []types.Hash
	for h := int(fork) + 1; h < len(bc.hashes) && len(hashes) < limit; h++ {
		hashes = append(hashes, bc.hashes[h])
		if bc.hashes[h] == hashStop {
			break
		}
	}
	return hashes
}

// LocateHeaders 与 LocateBlocks 相同，但返回区块头
func (bc *BlockChain) LocateHeaders(locator []types.Hash, hashStop types.Hash, limit int) ([]*wire.BlockHeader, error) {
	hashes := bc.LocateBlocks(locator, hashStop, limit)
	headers := make([]*wire.BlockHeader, 0, len(hashes))
	for _, hash := range hashes {
		header, err := bc.GetHeader(hash)
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}
	return headers, nil
}
