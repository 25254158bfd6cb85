package config

import (
	"fmt"
	"time"

	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// Params 一个网络的固定参数
type Params struct {
	Name        string
	Magic       wire.Magic
	DefaultPort uint16
	Genesis     *wire.MsgBlock
	// BlockTime 本地出块间隔，0 表示不出块
	BlockTime time.Duration
}

func genesisBlock(timestamp uint32, bits uint32, message string) *wire.MsgBlock {
	coinbase := core.NewCoinbaseTx([]byte(message), 50*100_000_000, nil)
	return core.NewBlock(types.ZeroHash, timestamp, bits, []*wire.MsgTx{coinbase})
}

var (
	MainNetParams = Params{
		Name:        "mainnet",
		Magic:       0xd9b4bef9,
		DefaultPort: 8333,
		Genesis:     genesisBlock(1231006505, 0x1d00ffff, "xnode mainnet genesis"),
	}
	TestNetParams = Params{
		Name:        "testnet",
		Magic:       0x0709110b,
		DefaultPort: 18333,
		Genesis:     genesisBlock(1296688602, 0x1d00ffff, "xnode testnet genesis"),
	}
	RegTestParams = Params{
		Name:        "regtest",
		Magic:       0xdab5bffa,
		DefaultPort: 18444,
		Genesis:     genesisBlock(1296688602, 0x207fffff, "xnode regtest genesis"),
		BlockTime:   10 * time.Second,
	}
)

// ParamsFor 按名字查找网络参数
func ParamsFor(name string) (*Params, error) {
	switch name {
	case MainNetParams.Name:
		return &MainNetParams, nil
	case TestNetParams.Name:
		return &TestNetParams, nil
	case RegTestParams.Name:
		return &RegTestParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
