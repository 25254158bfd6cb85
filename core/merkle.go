package core

import (
	"github.com/virtue186/xnode/types"
)

// MerkleRoot 两两拼接后做双重哈希，层内个数为奇数时最后一个与自身配对。
// 没有叶子时返回零哈希
func MerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.ZeroHash
	}

	level := append([]types.Hash(nil), leaves...)
	var buf [types.HashSize * 2]byte
	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			copy(buf[:types.HashSize], level[i][:])
			copy(buf[types.HashSize:], right[:])
			next = append(next, types.DoubleHash(buf[:]))
		}
		level = next
	}
	return level[0]
}
