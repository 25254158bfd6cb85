package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/wire"
)

func handshaked(p *LocalPeer, height int32) *LocalPeer {
	p.SetVersion(&wire.MsgVersion{ProtocolVersion: wire.ProtocolVersion, UserAgent: "/test/", StartHeight: height})
	return p
}

func TestBroadcast(t *testing.T) {
	ps := NewPeerSet(0)
	a := handshaked(NewLocalPeer(1, "A", true), 1)
	b := handshaked(NewLocalPeer(2, "B", false), 2)
	c := handshaked(NewLocalPeer(3, "C", true), 3)
	pending := NewLocalPeer(4, "D", true)
	for _, p := range []Peer{a, b, c, pending} {
		require.NoError(t, ps.Add(p))
	}

	msg := wire.NewMsgPing(7)
	assert.Equal(t, 2, ps.Broadcast(msg, a.ID()))
	assert.Empty(t, a.Sent())
	assert.Equal(t, []wire.Message{msg}, b.Sent())
	assert.Equal(t, []wire.Message{msg}, c.Sent())
	assert.Empty(t, pending.Sent())
}

func TestSendTo(t *testing.T) {
	ps := NewPeerSet(0)
	a := NewLocalPeer(1, "A", true)
	require.NoError(t, ps.Add(a))

	assert.Nil(t, ps.SendTo(1, &wire.MsgVerAck{}))
	assert.Len(t, a.Sent(), 1)
	assert.ErrorIs(t, ps.SendTo(9, &wire.MsgVerAck{}), ErrUnknownPeer)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, ps.SendTo(1, &wire.MsgVerAck{}), ErrPeerClosed)
}

func TestPeerSetLimit(t *testing.T) {
	ps := NewPeerSet(2)
	require.NoError(t, ps.Add(NewLocalPeer(1, "A", true)))
	require.NoError(t, ps.Add(NewLocalPeer(2, "B", true)))
	assert.ErrorIs(t, ps.Add(NewLocalPeer(3, "C", true)), ErrTooManyPeers)
	assert.Error(t, ps.Add(NewLocalPeer(1, "A", true)))

	ps.Remove(1)
	assert.Nil(t, ps.Add(NewLocalPeer(3, "C", true)))
	assert.True(t, ps.HasAddr("C"))
	assert.False(t, ps.HasAddr("A"))
}

func TestPeerInfos(t *testing.T) {
	ps := NewPeerSet(0)
	require.NoError(t, ps.Add(handshaked(NewLocalPeer(2, "B", false), 20)))
	require.NoError(t, ps.Add(NewLocalPeer(1, "A", true)))

	infos := ps.PeerInfos()
	require.Len(t, infos, 2)
	assert.Equal(t, PeerID(1), infos[0].ID)
	assert.Equal(t, "A", infos[0].Addr)
	assert.True(t, infos[0].Inbound)
	assert.Equal(t, int32(0), infos[0].Version)

	assert.Equal(t, PeerID(2), infos[1].ID)
	assert.Equal(t, wire.ProtocolVersion, infos[1].Version)
	assert.Equal(t, "/test/", infos[1].UserAgent)
	assert.Equal(t, int32(20), infos[1].StartHeight)
}

func TestLocalPeerConnect(t *testing.T) {
	a := NewLocalPeer(1, "A", false)
	b := NewLocalPeer(2, "B", true)
	Connect(a, b)

	msg := wire.NewMsgPing(3)
	require.NoError(t, a.Send(msg))
	assert.Equal(t, msg, <-b.Consume())
	require.NoError(t, b.Send(wire.NewMsgPong(3)))
	assert.Equal(t, wire.NewMsgPong(3), <-a.Consume())
}
