package types

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashSize 哈希的字节长度
const HashSize = chainhash.HashSize

// Hash 是区块和交易的标识符。内存中按计算顺序保存，String() 按协议惯例反转显示
type Hash = chainhash.Hash

// ZeroHash 全零哈希，创世块的前驱和 "尽可能多" 的 hashStop 都用它表示
var ZeroHash Hash

// DoubleHash 计算 sha256(sha256(b))
func DoubleHash(b []byte) Hash {
	return chainhash.DoubleHashH(b)
}

// Checksum 返回双重哈希的前 4 个字节，用作消息校验和
func Checksum(b []byte) [4]byte {
	var sum [4]byte
	copy(sum[:], chainhash.DoubleHashB(b)[:4])
	return sum
}

func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash length must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// HashFromString 解析反转显示的十六进制字符串
func HashFromString(s string) (Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}

func IsZero(h Hash) bool {
	return h == ZeroHash
}

func RandomBytes(size int) []byte {
	token := make([]byte, size)
	_, err := rand.Read(token)
	if err != nil {
		return nil
	}
	return token
}

func RandomHash() Hash {
	var h Hash
	copy(h[:], RandomBytes(HashSize))
	return h
}
