package node

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// fixedChain 只提供消息构造需要的状态
type fixedChain struct {
	height  uint32
	locator []types.Hash
}

func (c fixedChain) BestHeight() uint32             { return c.height }
func (c fixedChain) BlockLocator() []types.Hash     { return c.locator }
func (c fixedChain) HasBlock(types.Hash) bool       { return false }
func (c fixedChain) HasTransaction(types.Hash) bool { return false }

func TestBuildVersion(t *testing.T) {
	now := time.Unix(1700000000, 0)
	self := netip.MustParseAddrPort("192.0.2.1:18444")
	f := NewMessageFactory(MessageFactoryOpts{
		Chain:    fixedChain{height: 12},
		Services: wire.SFNodeNetwork,
		SelfAddr: self,
		Relay:    true,
		Now:      func() time.Time { return now },
		Nonce:    func() uint64 { return 7 },
	})

	v := f.BuildVersion(netip.MustParseAddrPort("198.51.100.2:8333"))
	assert.Equal(t, wire.ProtocolVersion, v.ProtocolVersion)
	assert.Equal(t, int32(12), v.StartHeight)
	assert.Equal(t, now.Unix(), v.Timestamp)
	assert.Equal(t, uint64(7), v.Nonce)
	assert.Equal(t, DefaultUserAgent, v.UserAgent)
	assert.Equal(t, self, v.AddrFrom.AddrPort())
	assert.Equal(t, "198.51.100.2:8333", v.AddrRecv.AddrPort().String())
	assert.True(t, v.Relay)
	assert.Equal(t, uint64(7), f.Nonce())
}

func TestBuildVersionHeightOverflow(t *testing.T) {
	f := NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{height: math.MaxInt32 + 1}})
	assert.Panics(t, func() { f.BuildVersion(netip.AddrPort{}) })

	f = NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{height: math.MaxInt32}})
	assert.NotPanics(t, func() { f.BuildVersion(netip.AddrPort{}) })
}

func TestBuildGetBlocks(t *testing.T) {
	locator := []types.Hash{types.RandomHash(), types.RandomHash()}
	f := NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{locator: locator}})

	target := types.RandomHash()
	m := f.BuildGetBlocks(target)
	assert.Equal(t, locator, m.BlockLocatorHashes)
	assert.Equal(t, target, m.HashStop)

	m = f.BuildGetBlocks(types.ZeroHash)
	assert.Equal(t, types.ZeroHash, m.HashStop)
}

func TestBuildGetHeaders(t *testing.T) {
	f := NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{}})
	locator := []types.Hash{types.RandomHash()}
	stop := types.RandomHash()
	m := f.BuildGetHeaders(locator, stop)
	assert.Equal(t, locator, m.BlockLocatorHashes)
	assert.Equal(t, stop, m.HashStop)
}

func TestBuildInventory(t *testing.T) {
	f := NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{}})
	hashes := []types.Hash{types.RandomHash(), types.RandomHash(), types.RandomHash()}

	inv, err := f.BuildInventory(wire.InvTypeTx, hashes)
	require.NoError(t, err)
	require.Len(t, inv.InvList, 3)
	for i, iv := range inv.InvList {
		assert.Equal(t, wire.InvTypeTx, iv.Type)
		assert.Equal(t, hashes[i], iv.Hash)
	}

	_, err = f.BuildInventory(wire.InvTypeBlock, make([]types.Hash, wire.MaxInvPerMsg+1))
	assert.Error(t, err)
}
