package network

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtue186/xnode/wire"
)

const testMagic wire.Magic = 0xdab5bffa

func pingPongDispatcher() *Dispatcher {
	return &Dispatcher{
		Ping: Chain[*wire.MsgPing]{func(ctx *HandlerContext, m *wire.MsgPing) bool {
			ctx.Send(wire.NewMsgPong(m.Nonce))
			return true
		}},
		Version: Chain[*wire.MsgVersion]{func(ctx *HandlerContext, _ *wire.MsgVersion) bool {
			ctx.Violation("unexpected version")
			return true
		}},
	}
}

// servePipe 在 net.Pipe 的一端运行 ServeConn，返回另一端和结束时的错误
func servePipe(t *testing.T, s *Server) (net.Conn, <-chan error) {
	server, client := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- s.ServeConn(context.Background(), server, true)
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func frame(t *testing.T, msg wire.Message) []byte {
	buf := &bytes.Buffer{}
	_, err := wire.WriteMessage(buf, testMagic, msg)
	require.NoError(t, err)
	return buf.Bytes()
}

func readPong(t *testing.T, conn net.Conn) *wire.MsgPong {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, _, err := wire.ReadMessage(wire.NewEnvelopeReader(conn, testMagic))
	require.NoError(t, err)
	pong, ok := msg.(*wire.MsgPong)
	require.True(t, ok, "got %T", msg)
	return pong
}

func waitErr(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed")
		return nil
	}
}

func TestServeConnPingPong(t *testing.T) {
	s := NewServer(ServerOpts{Magic: testMagic, Dispatcher: pingPongDispatcher()})
	client, done := servePipe(t, s)

	// 前面的垃圾字节在重新对齐时被丢掉
	go client.Write(append([]byte{0x01, 0x02, 0x03}, frame(t, wire.NewMsgPing(99))...))
	assert.Equal(t, uint64(99), readPong(t, client).Nonce)

	infos := s.Peers.PeerInfos()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Inbound)
	assert.NotZero(t, infos[0].BytesReceived)

	client.Close()
	waitErr(t, done)
	assert.Equal(t, 0, s.Peers.Len())
}

func TestServeConnIgnoresMalformedPayload(t *testing.T) {
	s := NewServer(ServerOpts{Magic: testMagic, Dispatcher: pingPongDispatcher()})
	client, _ := servePipe(t, s)

	bad, err := wire.EncodeEnvelope(testMagic, wire.CmdPing, []byte{1, 2, 3})
	require.NoError(t, err)
	unknown, err := wire.EncodeEnvelope(testMagic, "bogus", []byte{1})
	require.NoError(t, err)

	go func() {
		client.Write(bad)
		client.Write(unknown)
		client.Write(frame(t, wire.NewMsgPing(5)))
	}()
	assert.Equal(t, uint64(5), readPong(t, client).Nonce)
}

func TestServeConnChecksumMismatchCloses(t *testing.T) {
	s := NewServer(ServerOpts{Magic: testMagic, Dispatcher: pingPongDispatcher()})
	client, done := servePipe(t, s)

	b := frame(t, wire.NewMsgPing(1))
	b[wire.HeaderSize] ^= 0xff
	go client.Write(b)
	assert.ErrorIs(t, waitErr(t, done), wire.ErrChecksumMismatch)
}

func TestServeConnProtocolViolationCloses(t *testing.T) {
	disconnected := make(chan Peer, 1)
	s := NewServer(ServerOpts{
		Magic:      testMagic,
		Dispatcher: pingPongDispatcher(),
		OnDisconnect: func(p Peer, _ error) {
			disconnected <- p
		},
	})
	client, done := servePipe(t, s)

	go client.Write(frame(t, &wire.MsgVersion{ProtocolVersion: wire.ProtocolVersion}))
	assert.ErrorIs(t, waitErr(t, done), ErrProtocolViolation)
	p := <-disconnected
	assert.True(t, p.Inbound())
}

func TestServeConnRejectsWhenFull(t *testing.T) {
	ps := NewPeerSet(1)
	require.NoError(t, ps.Add(NewLocalPeer(1000, "other", true)))
	s := NewServer(ServerOpts{Magic: testMagic, Peers: ps})

	_, done := servePipe(t, s)
	assert.ErrorIs(t, waitErr(t, done), ErrTooManyPeers)
}

func TestServerDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewServer(ServerOpts{ListenAddr: "127.0.0.1:0", Magic: testMagic, Dispatcher: pingPongDispatcher()})
	served := make(chan error, 1)
	go func() { served <- listener.ListenAndServe(ctx) }()

	pongs := make(chan uint64, 1)
	dialer := NewServer(ServerOpts{
		Magic: testMagic,
		Dispatcher: &Dispatcher{Pong: Chain[*wire.MsgPong]{func(_ *HandlerContext, m *wire.MsgPong) bool {
			pongs <- m.Nonce
			return true
		}}},
		OnConnect: func(ctx *HandlerContext) {
			ctx.Send(wire.NewMsgPing(11))
		},
	})
	require.NoError(t, dialer.Dial(ctx, listener.Addr().String()))

	select {
	case nonce := <-pongs:
		assert.Equal(t, uint64(11), nonce)
	case <-time.After(5 * time.Second):
		t.Fatal("no pong")
	}

	cancel()
	assert.Nil(t, <-served)
	dialer.Wait()
	assert.Equal(t, 0, dialer.Peers.Len())
}

func TestServeConnSkipsFramingErrors(t *testing.T) {
	s := NewServer(ServerOpts{Magic: testMagic, Dispatcher: pingPongDispatcher()})
	client, done := servePipe(t, s)

	// 命令字段损坏的帧，载荷里是一条完整的 ping，不能被当成新帧处理
	bad, err := wire.EncodeEnvelope(testMagic, wire.CmdTx, frame(t, wire.NewMsgPing(7)))
	require.NoError(t, err)
	bad[4+wire.CommandSize-1] = 'x'

	go func() {
		client.Write(bad)
		client.Write(frame(t, wire.NewMsgPing(8)))
	}()
	assert.Equal(t, uint64(8), readPong(t, client).Nonce)

	select {
	case err := <-done:
		t.Fatalf("connection closed: %v", err)
	default:
	}
	assert.Equal(t, 1, s.Peers.Len())

	// 连接仍然可用
	go client.Write(frame(t, wire.NewMsgPing(9)))
	assert.Equal(t, uint64(9), readPong(t, client).Nonce)
}

func TestServerDialAfterShutdown(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer target.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(ServerOpts{ListenAddr: "127.0.0.1:0", Magic: testMagic})
	served := make(chan error, 1)
	go func() { served <- s.ListenAndServe(ctx) }()
	s.Addr()

	cancel()
	assert.Nil(t, <-served)

	err = s.Dial(context.Background(), target.Addr().String())
	assert.ErrorIs(t, err, ErrServerClosed)
	assert.Equal(t, 0, s.Peers.Len())
}
