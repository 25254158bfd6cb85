package node

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

type serviceEnv struct {
	chain *core.BlockChain
	pool  *core.TxPool
	book  *AddressBook
	cs    *ChainService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	bc, _ := newTestChain(t)
	book, err := NewAddressBook(16)
	require.NoError(t, err)
	env := &serviceEnv{chain: bc, pool: core.NewTxPool(), book: book}
	env.cs = NewChainService(nil, bc, env.pool, NewMessageFactory(MessageFactoryOpts{Chain: bc}), book)
	return env
}

func TestServeGetBlocks(t *testing.T) {
	env := newServiceEnv(t)
	blocks := extend(t, env.chain, 10)
	ctx, peer := peerContext(t, 1, true)
	completeHandshake(ctx, 0)

	req := wire.NewMsgGetBlocks(types.ZeroHash)
	req.AddBlockLocatorHash(blocks[3].BlockHash())
	assert.True(t, env.cs.OnGetBlocks(ctx, req))

	invs := network.SentOf[*wire.MsgInv](peer)
	require.Len(t, invs, 1)
	require.Len(t, invs[0].InvList, 6)
	for i, iv := range invs[0].InvList {
		assert.Equal(t, wire.InvTypeBlock, iv.Type)
		assert.Equal(t, blocks[4+i].BlockHash(), iv.Hash)
	}

	// 到 hashStop 为止
	peer.Reset()
	req.HashStop = blocks[5].BlockHash()
	assert.True(t, env.cs.OnGetBlocks(ctx, req))
	invs = network.SentOf[*wire.MsgInv](peer)
	require.Len(t, invs, 1)
	assert.Len(t, invs[0].InvList, 2)

	// 对方已经在最新块上
	peer.Reset()
	up := wire.NewMsgGetBlocks(types.ZeroHash)
	up.AddBlockLocatorHash(env.chain.BestHash())
	assert.True(t, env.cs.OnGetBlocks(ctx, up))
	assert.Empty(t, peer.Sent())
}

func TestServeGetHeaders(t *testing.T) {
	env := newServiceEnv(t)
	blocks := extend(t, env.chain, 3)
	ctx, peer := peerContext(t, 1, true)

	req := wire.NewMsgGetHeaders()
	req.AddBlockLocatorHash(env.chain.GenesisHash())
	assert.True(t, env.cs.OnGetHeaders(ctx, req))

	headers := network.SentOf[*wire.MsgHeaders](peer)
	require.Len(t, headers, 1)
	require.Len(t, headers[0].Headers, 3)
	assert.Equal(t, blocks[2].BlockHash(), headers[0].Headers[2].BlockHash())
}

func TestServeGetData(t *testing.T) {
	env := newServiceEnv(t)
	blocks := extend(t, env.chain, 2)
	pooled := core.NewCoinbaseTx([]byte("pooled"), 5, nil)
	env.pool.Add(pooled)
	mined := blocks[1].Transactions[0]
	ctx, peer := peerContext(t, 1, true)

	missing := types.RandomHash()
	req := wire.NewMsgGetData()
	req.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, blocks[0].BlockHash()))
	req.AddInvVect(wire.NewInvVect(wire.InvTypeTx, pooled.TxHash()))
	req.AddInvVect(wire.NewInvVect(wire.InvTypeTx, mined.TxHash()))
	req.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, missing))
	assert.True(t, env.cs.OnGetData(ctx, req))

	sent := peer.Sent()
	require.Len(t, sent, 4)
	block, ok := sent[0].(*wire.MsgBlock)
	require.True(t, ok)
	assert.Equal(t, blocks[0].BlockHash(), block.BlockHash())
	assert.Equal(t, pooled.TxHash(), sent[1].(*wire.MsgTx).TxHash())
	assert.Equal(t, mined.TxHash(), sent[2].(*wire.MsgTx).TxHash())

	nf, ok := sent[3].(*wire.MsgNotFound)
	require.True(t, ok)
	require.Len(t, nf.InvList, 1)
	assert.Equal(t, missing, nf.InvList[0].Hash)
}

func TestServeAddresses(t *testing.T) {
	env := newServiceEnv(t)
	ctx, peer := peerContext(t, 1, true)

	assert.True(t, env.cs.OnGetAddr(ctx, &wire.MsgGetAddr{}))
	assert.Empty(t, peer.Sent())

	good := wire.NewNetAddress(netip.MustParseAddrPort("203.0.113.5:8333"), wire.SFNodeNetwork)
	unspecified := wire.NewNetAddress(netip.MustParseAddrPort("0.0.0.0:8333"), 0)
	noPort := wire.NewNetAddress(netip.MustParseAddrPort("203.0.113.6:0"), 0)
	assert.True(t, env.cs.OnAddr(ctx, &wire.MsgAddr{AddrList: []wire.NetAddress{good, unspecified, noPort}}))
	assert.Equal(t, 1, env.book.Len())

	assert.True(t, env.cs.OnGetAddr(ctx, &wire.MsgGetAddr{}))
	addrs := network.SentOf[*wire.MsgAddr](peer)
	require.Len(t, addrs, 1)
	require.Len(t, addrs[0].AddrList, 1)
	assert.Equal(t, good.AddrPort(), addrs[0].AddrList[0].AddrPort())
	assert.NotZero(t, addrs[0].AddrList[0].Timestamp)
}

func TestServeRecordsInboundListenAddr(t *testing.T) {
	env := newServiceEnv(t)
	v := peerVersion(1)
	v.AddrFrom = wire.NewNetAddress(netip.MustParseAddrPort("203.0.113.9:18444"), 0)

	ctx, _ := peerContext(t, 1, true)
	assert.False(t, env.cs.OnVersion(ctx, v))
	assert.Equal(t, 1, env.book.Len())

	ctx, _ = peerContext(t, 2, false)
	v.AddrFrom = wire.NewNetAddress(netip.MustParseAddrPort("203.0.113.10:18444"), 0)
	assert.False(t, env.cs.OnVersion(ctx, v))
	assert.Equal(t, 1, env.book.Len())
}

func TestAddressBookOrder(t *testing.T) {
	book, err := NewAddressBook(2)
	require.NoError(t, err)
	for _, s := range []string{"203.0.113.1:1", "203.0.113.2:2", "203.0.113.3:3"} {
		assert.True(t, book.Add(wire.NewNetAddress(netip.MustParseAddrPort(s), 0)))
	}
	addrs := book.Addresses(10)
	require.Len(t, addrs, 2)
	assert.Equal(t, "203.0.113.3:3", addrs[0].AddrPort().String())
	assert.Equal(t, "203.0.113.2:2", addrs[1].AddrPort().String())
	assert.Len(t, book.Addresses(1), 1)
}
