package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

func randomTx(t *testing.T, seed uint64) *wire.MsgTx {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, seed)
	return NewCoinbaseTx(append(data, types.RandomBytes(8)...), 50, []byte{0x51})
}

func RandomBlock(t *testing.T, prev types.Hash, txCount int) *wire.MsgBlock {
	txs := make([]*wire.MsgTx, txCount)
	for i := range txs {
		txs[i] = randomTx(t, uint64(i))
	}
	return NewBlock(prev, 1700000000, 0x207fffff, txs)
}

func TestNewBlockMerkleRoot(t *testing.T) {
	b := RandomBlock(t, types.ZeroHash, 3)
	assert.Equal(t, MerkleRoot(b.TxHashes()), b.Header.MerkleRoot)
	assert.Nil(t, NewBlockValidator().ValidateBlock(b))
}

func TestValidateBlock(t *testing.T) {
	v := NewBlockValidator()

	empty := NewBlock(types.ZeroHash, 0, 0, nil)
	assert.ErrorIs(t, v.ValidateBlock(empty), ErrInvalidBlock)

	tx := randomTx(t, 1)
	dup := NewBlock(types.ZeroHash, 0, 0, []*wire.MsgTx{tx, tx})
	assert.ErrorIs(t, v.ValidateBlock(dup), ErrInvalidBlock)

	bad := RandomBlock(t, types.ZeroHash, 2)
	bad.Header.MerkleRoot = types.RandomHash()
	assert.ErrorIs(t, v.ValidateBlock(bad), ErrInvalidBlock)

	assert.Nil(t, NopValidator{}.ValidateBlock(bad))
}

func TestMerkleRoot(t *testing.T) {
	assert.Equal(t, types.ZeroHash, MerkleRoot(nil))

	a, b, c := types.RandomHash(), types.RandomHash(), types.RandomHash()
	assert.Equal(t, a, MerkleRoot([]types.Hash{a}))

	pair := func(l, r types.Hash) types.Hash {
		return types.DoubleHash(append(l[:], r[:]...))
	}
	assert.Equal(t, pair(a, b), MerkleRoot([]types.Hash{a, b}))
	// 奇数个叶子时最后一个与自身配对
	assert.Equal(t, pair(pair(a, b), pair(c, c)), MerkleRoot([]types.Hash{a, b, c}))
}
