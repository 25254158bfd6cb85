package core

import (
	"sort"
	"sync"
	"time"

	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

type pooledTx struct {
	tx        *wire.MsgTx
	firstSeen int64
}

// DefaultTxPoolLimit 交易池默认最多保存的交易数
const DefaultTxPoolLimit = 50000

// TxPool 待打包交易池，按首次见到的时间排序
type TxPool struct {
	lock         sync.RWMutex
	transactions map[types.Hash]*pooledTx
	limit        int
	lastSeen     int64
	now          func() time.Time
}

func NewTxPool() *TxPool {
	return NewTxPoolWithLimit(DefaultTxPoolLimit)
}

// NewTxPoolWithLimit limit 不大于 0 时使用默认上限
func NewTxPoolWithLimit(limit int) *TxPool {
	if limit <= 0 {
		limit = DefaultTxPoolLimit
	}
	return &TxPool{
		transactions: make(map[types.Hash]*pooledTx),
		limit:        limit,
		now:          time.Now,
	}
}

func (p *TxPool) Len() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.transactions)
}

// Add 加入交易，已存在或池已满时返回 false
func (p *TxPool) Add(tx *wire.MsgTx) bool {
	hash := tx.TxHash()

	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.transactions[hash]; ok {
		return false
	}
	if len(p.transactions) >= p.limit {
		return false
	}
	// 同一纳秒内加入的交易仍然保持先后顺序
	seen := p.now().UnixNano()
	if seen <= p.lastSeen {
		seen = p.lastSeen + 1
	}
	p.lastSeen = seen
	p.transactions[hash] = &pooledTx{tx: tx, firstSeen: seen}
	txPoolSize.Set(float64(len(p.transactions)))
	return true
}

// Full 池中交易数达到上限
func (p *TxPool) Full() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.transactions) >= p.limit
}

func (p *TxPool) Has(hash types.Hash) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	_, ok := p.transactions[hash]
	return ok
}

func (p *TxPool) Get(hash types.Hash) (*wire.MsgTx, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	ptx, ok := p.transactions[hash]
	if !ok {
		return nil, false
	}
	return ptx.tx, true
}

func (p *TxPool) Remove(hash types.Hash) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.transactions, hash)
	txPoolSize.Set(float64(len(p.transactions)))
}

// RemoveBlock 移除区块中已经打包的交易
func (p *TxPool) RemoveBlock(b *wire.MsgBlock) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, hash := range b.TxHashes() {
		delete(p.transactions, hash)
	}
	txPoolSize.Set(float64(len(p.transactions)))
}

func (p *TxPool) Flush() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.transactions = make(map[types.Hash]*pooledTx)
	txPoolSize.Set(0)
}

type txSorter []*pooledTx

func (s txSorter) Len() int           { return len(s) }
func (s txSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s txSorter) Less(i, j int) bool { return s[i].firstSeen < s[j].firstSeen }

func (p *TxPool) sorted() txSorter {
	p.lock.RLock()
	s := make(txSorter, 0, len(p.transactions))
	for _, ptx := range p.transactions {
		s = append(s, ptx)
	}
	p.lock.RUnlock()
	sort.Sort(s)
	return s
}

// Transactions 按首次见到的顺序返回池中交易
func (p *TxPool) Transactions() []*wire.MsgTx {
	s := p.sorted()
	txx := make([]*wire.MsgTx, len(s))
	for i, ptx := range s {
		txx[i] = ptx.tx
	}
	return txx
}

// Hashes 按首次见到的顺序返回池中交易哈希
func (p *TxPool) Hashes() []types.Hash {
	s := p.sorted()
	hashes := make([]types.Hash, len(s))
	for i, ptx := range s {
		hashes[i] = ptx.tx.TxHash()
	}
	return hashes
}
