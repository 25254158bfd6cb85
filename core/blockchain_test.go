package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/storage"
	"github.com/virtue186/xnode/storage/leveldb"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
	"pgregory.net/rapid"
)

// countingStore 记录 Append 次数
type countingStore struct {
	RecordStore
	mu      sync.Mutex
	appends int
}

func (s *countingStore) Append(data []byte) (storage.RecordLocator, error) {
	s.mu.Lock()
	s.appends++
	s.mu.Unlock()
	return s.RecordStore.Append(data)
}

func (s *countingStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

type testEnv struct {
	db      storage.Database
	dir     string
	records *countingStore
	genesis *wire.MsgBlock
}

func newTestEnv(t *testing.T) *testEnv {
	db, err := leveldb.NewMemory()
	require.NoError(t, err)
	dir := t.TempDir()
	rs, err := storage.OpenRecordStore(storage.RecordStoreOpts{Dir: dir, FileCapacity: 4096})
	require.NoError(t, err)
	t.Cleanup(func() {
		rs.Close()
		db.Close()
	})
	return &testEnv{
		db:      db,
		dir:     dir,
		records: &countingStore{RecordStore: rs},
		genesis: NewBlock(types.ZeroHash, 1231006505, 0x207fffff, []*wire.MsgTx{NewCoinbaseTx([]byte("genesis"), 50, nil)}),
	}
}

func (env *testEnv) chain(t *testing.T) *BlockChain {
	bc, err := NewBlockChain(BlockChainOpts{DB: env.db, Records: env.records, Genesis: env.genesis})
	require.NoError(t, err)
	return bc
}

func NewBlockChainWithBlocks(t *testing.T, n int) *BlockChain {
	bc := newTestEnv(t).chain(t)
	addBlocks(t, bc, n)
	return bc
}

func addBlocks(t *testing.T, bc *BlockChain, n int) []*wire.MsgBlock {
	blocks := make([]*wire.MsgBlock, 0, n)
	for i := 0; i < n; i++ {
		b := RandomBlock(t, bc.BestHash(), 1+i%3)
		added, err := bc.AddBlock(b)
		require.NoError(t, err)
		require.True(t, added)
		blocks = append(blocks, b)
	}
	return blocks
}

func TestBlockChain(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)
	assert.Equal(t, uint32(0), bc.BestHeight())
	assert.Equal(t, env.genesis.BlockHash(), bc.BestHash())
	assert.Equal(t, env.genesis.BlockHash(), bc.GenesisHash())
	assert.True(t, bc.HasBlock(env.genesis.BlockHash()))
	assert.True(t, bc.HasTransaction(env.genesis.Transactions[0].TxHash()))
	assert.Equal(t, 1, env.records.Appends())
}

func TestBestTipConsistent(t *testing.T) {
	bc := newTestEnv(t).chain(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, err := bc.AddBlock(RandomBlock(t, bc.BestHash(), 1))
			assert.NoError(t, err)
		}
	}()

	for {
		hash, height := bc.BestTip()
		byHeight, err := bc.BlockHashByHeight(height)
		require.NoError(t, err)
		require.Equal(t, byHeight, hash)
		select {
		case <-done:
			hash, height = bc.BestTip()
			assert.Equal(t, uint32(50), height)
			assert.Equal(t, bc.BestHash(), hash)
			return
		default:
		}
	}
}

func TestAddBlock(t *testing.T) {
	bc := newTestEnv(t).chain(t)
	blocks := addBlocks(t, bc, 100)
	assert.Equal(t, uint32(100), bc.BestHeight())
	assert.Equal(t, blocks[99].BlockHash(), bc.BestHash())

	for i, b := range blocks {
		hash, err := bc.BlockHashByHeight(uint32(i + 1))
		assert.Nil(t, err)
		assert.Equal(t, b.BlockHash(), hash)

		stored, err := bc.GetBlock(hash)
		require.NoError(t, err)
		assert.Equal(t, b, stored)

		for _, tx := range b.Transactions {
			assert.True(t, bc.HasTransaction(tx.TxHash()))
			in, err := bc.TransactionBlock(tx.TxHash())
			assert.Nil(t, err)
			assert.Equal(t, hash, in)
		}
	}

	_, err := bc.BlockHashByHeight(101)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestAddKnownBlockIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)
	b := RandomBlock(t, bc.BestHash(), 2)

	added, err := bc.AddBlock(b)
	require.NoError(t, err)
	assert.True(t, added)
	appends := env.records.Appends()

	added, err = bc.AddBlock(b)
	assert.Nil(t, err)
	assert.False(t, added)
	assert.Equal(t, appends, env.records.Appends())
	assert.Equal(t, uint32(1), bc.BestHeight())
}

func TestAddOrphanBlock(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)

	orphan := RandomBlock(t, types.RandomHash(), 1)
	added, err := bc.AddBlock(orphan)
	assert.ErrorIs(t, err, ErrOrphanBlock)
	assert.False(t, added)
	assert.False(t, bc.HasBlock(orphan.BlockHash()))
	assert.Equal(t, 1, env.records.Appends())
}

func TestAddInvalidBlock(t *testing.T) {
	bc := newTestEnv(t).chain(t)
	b := RandomBlock(t, bc.BestHash(), 2)
	b.Header.MerkleRoot = types.RandomHash()

	_, err := bc.AddBlock(b)
	assert.ErrorIs(t, err, ErrInvalidBlock)
	assert.Equal(t, uint32(0), bc.BestHeight())
}

func TestSideChainDoesNotMoveTip(t *testing.T) {
	bc := newTestEnv(t).chain(t)
	main := addBlocks(t, bc, 5)

	// 从高度 2 分叉
	fork := RandomBlock(t, main[1].BlockHash(), 1)
	added, err := bc.AddBlock(fork)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, bc.HasBlock(fork.BlockHash()))
	assert.Equal(t, main[4].BlockHash(), bc.BestHash())
	assert.False(t, bc.HasTransaction(fork.Transactions[0].TxHash()))

	height, err := bc.BlockHeight(fork.BlockHash())
	assert.Nil(t, err)
	assert.Equal(t, uint32(3), height)

	locator := bc.BlockLocatorFrom(fork.BlockHash())
	assert.Equal(t, fork.BlockHash(), locator[0])
	assert.Equal(t, main[1].BlockHash(), locator[1])
	assert.Equal(t, bc.GenesisHash(), locator[len(locator)-1])
}

func TestReopenBlockChain(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)
	blocks := addBlocks(t, bc, 20)

	reopened := env.chain(t)
	assert.Equal(t, uint32(20), reopened.BestHeight())
	assert.Equal(t, blocks[19].BlockHash(), reopened.BestHash())
	assert.Equal(t, bc.BlockLocator(), reopened.BlockLocator())

	other := NewBlock(types.ZeroHash, 1231006506, 0x207fffff, []*wire.MsgTx{NewCoinbaseTx([]byte("other"), 50, nil)})
	_, err := NewBlockChain(BlockChainOpts{DB: env.db, Records: env.records, Genesis: other})
	assert.Error(t, err)
}

func TestBlockLocatorShape(t *testing.T) {
	bc := NewBlockChainWithBlocks(t, 40)
	locator := bc.BlockLocator()

	heights := make([]uint32, len(locator))
	for i, hash := range locator {
		h, err := bc.BlockHeight(hash)
		require.NoError(t, err)
		heights[i] = h
	}
	// 10 个逐一后退，随后步长 2、4、8、16
	assert.Equal(t, []uint32{40, 39, 38, 37, 36, 35, 34, 33, 32, 31, 29, 25, 17, 1, 0}, heights)
}

func TestBlockLocatorMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 60).Draw(rt, "height")
		bc := NewBlockChainWithBlocks(t, n)

		locator := bc.BlockLocator()
		if len(locator) == 0 {
			rt.Fatalf("empty locator")
		}
		assert.Equal(rt, bc.BestHash(), locator[0])
		assert.Equal(rt, bc.GenesisHash(), locator[len(locator)-1])

		prev := int64(-1)
		for i, hash := range locator {
			h, err := bc.BlockHeight(hash)
			if err != nil {
				rt.Fatalf("locator[%d]: %v", i, err)
			}
			if prev >= 0 && int64(h) >= prev {
				rt.Fatalf("locator height %d at %d not below %d", h, i, prev)
			}
			prev = int64(h)
		}
	})
}

func TestLocateBlocks(t *testing.T) {
	bc := NewBlockChainWithBlocks(t, 30)

	at := func(h uint32) types.Hash {
		hash, err := bc.BlockHashByHeight(h)
		require.NoError(t, err)
		return hash
	}

	// 对方停在高度 10
	hashes := bc.LocateBlocks([]types.Hash{at(10), at(9)}, types.ZeroHash, 500)
	require.Len(t, hashes, 20)
	assert.Equal(t, at(11), hashes[0])
	assert.Equal(t, at(30), hashes[19])

	// hashStop 包含在结果中
	hashes = bc.LocateBlocks([]types.Hash{at(10)}, at(15), 500)
	assert.Equal(t, []types.Hash{at(11), at(12), at(13), at(14), at(15)}, hashes)

	hashes = bc.LocateBlocks([]types.Hash{at(10)}, types.ZeroHash, 3)
	assert.Len(t, hashes, 3)

	// 不认识的定位器从创世块之后开始
	hashes = bc.LocateBlocks([]types.Hash{types.RandomHash()}, types.ZeroHash, 500)
	assert.Len(t, hashes, 30)
	assert.Equal(t, at(1), hashes[0])

	assert.Empty(t, bc.LocateBlocks([]types.Hash{bc.BestHash()}, types.ZeroHash, 500))

	headers, err := bc.LocateHeaders([]types.Hash{at(28)}, types.ZeroHash, 2000)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, at(29), headers[0].BlockHash())
	assert.Equal(t, at(30), headers[1].BlockHash())
}

func TestGetBlockCorruptRecord(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)
	b := addBlocks(t, bc, 1)[0]

	// 把索引项指向另一个区块的数据
	genesisEntry, err := bc.entry(bc.GenesisHash())
	require.NoError(t, err)
	entry, err := bc.entry(b.BlockHash())
	require.NoError(t, err)
	entry.locator = genesisEntry.locator
	value, err := entry.encode()
	require.NoError(t, err)
	require.NoError(t, env.db.Put(blockKey(b.BlockHash()), value))

	_, err = bc.GetBlock(b.BlockHash())
	assert.True(t, errors.Is(err, storage.ErrCorruptRecord))
}

func TestConcurrentAddBlock(t *testing.T) {
	env := newTestEnv(t)
	bc := env.chain(t)
	b := RandomBlock(t, bc.BestHash(), 1)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := bc.AddBlock(b)
			assert.Nil(t, err)
			results <- added
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for added := range results {
		if added {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, env.records.Appends())
}
