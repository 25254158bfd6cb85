package core

import (
	"errors"
	"fmt"

	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

var ErrInvalidBlock = errors.New("invalid block")

type Validator interface {
	ValidateBlock(*wire.MsgBlock) error
}

// BlockValidator 只做结构完整性检查：有交易、交易不重复、默克尔根一致。
// 脚本和工作量证明不在这里校验
type BlockValidator struct{}

func NewBlockValidator() *BlockValidator {
	return &BlockValidator{}
}

func (v BlockValidator) ValidateBlock(b *wire.MsgBlock) error {
	hash := b.BlockHash()
	if len(b.Transactions) == 0 {
		return fmt.Errorf("%w: block (%s) has no transactions", ErrInvalidBlock, hash)
	}

	txHashes := b.TxHashes()
	seen := make(map[types.Hash]struct{}, len(txHashes))
	for _, h := range txHashes {
		if _, ok := seen[h]; ok {
			return fmt.Errorf("%w: block (%s) contains duplicate transaction %s", ErrInvalidBlock, hash, h)
		}
		seen[h] = struct{}{}
	}

	if root := MerkleRoot(txHashes); root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: block (%s) merkle root %s, computed %s", ErrInvalidBlock, hash, b.Header.MerkleRoot, root)
	}
	return nil
}

// NopValidator 接受所有区块
type NopValidator struct{}

func (NopValidator) ValidateBlock(*wire.MsgBlock) error { return nil }
