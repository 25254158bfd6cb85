package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

func TestBroadcastSkipsOrigin(t *testing.T) {
	peers := network.NewPeerSet(0)
	a := network.NewLocalPeer(1, "10.0.0.1:1", true)
	b := network.NewLocalPeer(2, "10.0.0.2:1", true)
	fresh := network.NewLocalPeer(3, "10.0.0.3:1", true)
	for _, p := range []*network.LocalPeer{a, b, fresh} {
		require.NoError(t, peers.Add(p))
	}
	a.SetVersion(&wire.MsgVersion{ProtocolVersion: wire.ProtocolVersion})
	b.SetVersion(&wire.MsgVersion{ProtocolVersion: wire.ProtocolVersion})

	bs := NewBroadcastService(nil, peers, NewMessageFactory(MessageFactoryOpts{Chain: fixedChain{}}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bs.Start(ctx) }()

	hash := types.RandomHash()
	bs.AnnounceBlock(hash, a.ID())
	require.Eventually(t, func() bool { return len(b.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	inv := network.SentOf[*wire.MsgInv](b)
	require.Len(t, inv, 1)
	assert.Equal(t, []*wire.InvVect{wire.NewInvVect(wire.InvTypeBlock, hash)}, inv[0].InvList)
	assert.Empty(t, a.Sent())
	// 还没完成握手的节点收不到
	assert.Empty(t, fresh.Sent())

	tx := types.RandomHash()
	bs.AnnounceTx(tx, network.PeerID(0))
	require.Eventually(t, func() bool { return len(a.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, wire.InvTypeTx, network.SentOf[*wire.MsgInv](a)[0].InvList[0].Type)

	cancel()
	assert.NoError(t, <-done)
}

func TestConsensusEngineCreateBlock(t *testing.T) {
	bc, _ := newTestChain(t)
	pool := core.NewTxPool()
	announcer := &recordingAnnouncer{}
	tx := core.NewCoinbaseTx([]byte("pending"), 1, nil)
	pool.Add(tx)

	_, err := NewConsensusEngine(ConsensusEngineOpts{BlockChain: bc, TxPool: pool, Announcer: announcer})
	assert.Error(t, err)

	ce, err := NewConsensusEngine(ConsensusEngineOpts{
		BlockTime:    time.Second,
		PayoutScript: []byte{0x51},
		BlockChain:   bc,
		TxPool:       pool,
		Announcer:    announcer,
	})
	require.NoError(t, err)

	b1, err := ce.CreateBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), bc.BestHeight())
	assert.Equal(t, b1.BlockHash(), bc.BestHash())
	require.Len(t, b1.Transactions, 2)
	assert.Equal(t, tx.TxHash(), b1.Transactions[1].TxHash())
	assert.Equal(t, 0, pool.Len())
	assert.True(t, bc.HasTransaction(tx.TxHash()))

	b2, err := ce.CreateBlock()
	require.NoError(t, err)
	assert.Len(t, b2.Transactions, 1)
	assert.Equal(t, b1.BlockHash(), b2.Header.PrevBlock)
	assert.Equal(t, []types.Hash{b1.BlockHash(), b2.BlockHash()}, announcer.blocks)
}
