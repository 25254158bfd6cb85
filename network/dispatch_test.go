package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

func newTestContext(t *testing.T) (*HandlerContext, *LocalPeer) {
	peer := NewLocalPeer(1, "local", true)
	peers := NewPeerSet(0)
	assert.Nil(t, peers.Add(peer))
	return NewHandlerContext(context.Background(), peer, peers), peer
}

func TestChainShortCircuit(t *testing.T) {
	ctx, _ := newTestContext(t)
	var calls []string
	record := func(name string, result bool) Handler[*wire.MsgPing] {
		return func(*HandlerContext, *wire.MsgPing) bool {
			calls = append(calls, name)
			return result
		}
	}

	chain := Chain[*wire.MsgPing]{record("a", false), record("b", true), record("c", true)}
	assert.True(t, chain.Handle(ctx, wire.NewMsgPing(1)))
	assert.Equal(t, []string{"a", "b"}, calls)

	calls = nil
	chain = Chain[*wire.MsgPing]{record("a", false), record("b", false)}
	assert.False(t, chain.Handle(ctx, wire.NewMsgPing(1)))
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.False(t, Chain[*wire.MsgPing](nil).Handle(ctx, wire.NewMsgPing(1)))
}

func TestGuard(t *testing.T) {
	ctx, _ := newTestContext(t)
	reached := false
	chain := Guard(func(ctx *HandlerContext, _ *wire.MsgInv) bool {
		return ctx.Handshake.Complete()
	}, func(*HandlerContext, *wire.MsgInv) bool {
		reached = true
		return true
	})

	// 握手前消息被吞掉
	assert.True(t, chain.Handle(ctx, wire.NewMsgInv()))
	assert.False(t, reached)

	ctx.Handshake.VersionReceived = true
	ctx.Handshake.VerAckReceived = true
	assert.True(t, chain.Handle(ctx, wire.NewMsgInv()))
	assert.True(t, reached)
}

func TestDispatcherRoutesByType(t *testing.T) {
	ctx, peer := newTestContext(t)
	d := &Dispatcher{
		Ping: Chain[*wire.MsgPing]{func(ctx *HandlerContext, m *wire.MsgPing) bool {
			ctx.Send(wire.NewMsgPong(m.Nonce))
			return true
		}},
	}

	assert.True(t, d.Dispatch(ctx, wire.NewMsgPing(42)))
	pongs := SentOf[*wire.MsgPong](peer)
	if assert.Len(t, pongs, 1) {
		assert.Equal(t, uint64(42), pongs[0].Nonce)
	}

	// 没有注册处理链的消息返回 false
	assert.False(t, d.Dispatch(ctx, &wire.MsgVerAck{}))
	assert.False(t, d.Dispatch(ctx, &wire.MsgUnknown{Cmd: "bogus"}))
	assert.Nil(t, ctx.Err())
}

func TestHandlerContextFail(t *testing.T) {
	ctx, _ := newTestContext(t)
	assert.Nil(t, ctx.Err())
	ctx.Violation("duplicate %s", "version")
	ctx.Fail(ErrPeerClosed)
	assert.ErrorIs(t, ctx.Err(), ErrProtocolViolation)
	assert.Contains(t, ctx.Err().Error(), "duplicate version")
}

func TestSyncState(t *testing.T) {
	var s SyncState
	a, b := types.RandomHash(), types.RandomHash()
	assert.False(t, s.IsInFlight(a))
	s.MarkInFlight(a)
	s.MarkInFlight(b)
	assert.Equal(t, 2, s.InFlight())
	assert.True(t, s.Received(a))
	assert.False(t, s.Received(a))
	assert.Equal(t, 1, s.InFlight())

	assert.True(t, s.ShouldRequest(a, b))
	assert.False(t, s.ShouldRequest(a, b))
	assert.True(t, s.ShouldRequest(b, b))
}
