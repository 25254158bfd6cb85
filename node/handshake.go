package node

import (
	"net/netip"

	"github.com/go-kit/log"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/wire"
)

const (
	DefaultUserAgent = "/xnode:0.1.0/"

	// MinProtocolVersion 低于此版本的节点不接受
	MinProtocolVersion int32 = 70001
)

// Handshake 版本协商：交换 version 和 verack，应答 ping
type Handshake struct {
	logger  log.Logger
	factory *MessageFactory
	// OnComplete 握手完成后调用，可选
	OnComplete func(*network.HandlerContext)
}

func NewHandshake(logger log.Logger, factory *MessageFactory) *Handshake {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handshake{logger: logger, factory: factory}
}

// sendVersion 每个连接只发送一次
func (h *Handshake) sendVersion(ctx *network.HandlerContext) {
	if ctx.Handshake.VersionSent {
		return
	}
	remote, _ := netip.ParseAddrPort(ctx.Peer.Addr())
	ctx.Send(h.factory.BuildVersion(remote))
	ctx.Handshake.VersionSent = true
}

// OnConnect 出站连接由我们先发 version
func (h *Handshake) OnConnect(ctx *network.HandlerContext) {
	if !ctx.Peer.Inbound() {
		h.sendVersion(ctx)
	}
}

// OnVersion 协商成功后返回 false，让后面的处理器（区块同步）继续处理这条 version
func (h *Handshake) OnVersion(ctx *network.HandlerContext, v *wire.MsgVersion) bool {
	if ctx.Handshake.VersionReceived {
		ctx.Violation("duplicate version message")
		return true
	}
	if v.Nonce == h.factory.Nonce() {
		ctx.Violation("connected to self")
		return true
	}
	if v.ProtocolVersion < MinProtocolVersion {
		ctx.Violation("protocol version %d below minimum %d", v.ProtocolVersion, MinProtocolVersion)
		return true
	}
	if v.StartHeight < 0 {
		ctx.Violation("negative start height %d", v.StartHeight)
		return true
	}

	ctx.Handshake.VersionReceived = true
	ctx.Sync.PeerHeight = v.StartHeight
	ctx.Peer.SetVersion(v)
	h.logger.Log(
		"msg", "received version",
		"peer", ctx.Peer.Addr(),
		"version", v.ProtocolVersion,
		"userAgent", v.UserAgent,
		"startHeight", v.StartHeight,
	)

	h.sendVersion(ctx)
	ctx.Send(&wire.MsgVerAck{})
	h.checkComplete(ctx)
	return false
}

func (h *Handshake) OnVerAck(ctx *network.HandlerContext, _ *wire.MsgVerAck) bool {
	if !ctx.Handshake.VersionSent {
		ctx.Violation("verack before our version")
		return true
	}
	if ctx.Handshake.VerAckReceived {
		return true
	}
	ctx.Handshake.VerAckReceived = true
	h.checkComplete(ctx)
	return true
}

func (h *Handshake) checkComplete(ctx *network.HandlerContext) {
	if !ctx.Handshake.Complete() {
		return
	}
	h.logger.Log("msg", "handshake complete", "peer", ctx.Peer.Addr())
	if h.OnComplete != nil {
		h.OnComplete(ctx)
	}
}

func (h *Handshake) OnPing(ctx *network.HandlerContext, m *wire.MsgPing) bool {
	ctx.Send(wire.NewMsgPong(m.Nonce))
	return true
}

func (h *Handshake) OnPong(*network.HandlerContext, *wire.MsgPong) bool {
	return true
}

// Required 握手完成前收到其他消息视为违反协议
func Required[T wire.Message](ctx *network.HandlerContext, msg T) bool {
	if ctx.Handshake.Complete() {
		return true
	}
	ctx.Violation("%s before handshake", msg.Command())
	return false
}
