package network

import (
	"github.com/virtue186/xnode/wire"
)

// Handler 处理一种消息，返回 true 表示消息已被完全处理，后面的 Handler 不再执行
type Handler[T wire.Message] func(*HandlerContext, T) bool

// Chain 按注册顺序依次尝试的一组 Handler
type Chain[T wire.Message] []Handler[T]

// Handle 从左到右执行，遇到第一个返回 true 的 Handler 即停止。
// 返回 false 表示没有 Handler 认领该消息
func (c Chain[T]) Handle(ctx *HandlerContext, msg T) bool {
	for _, h := range c {
		if h(ctx, msg) {
			return true
		}
	}
	return false
}

// Guard 在 chain 前面加一个条件检查，不满足条件时直接吞掉消息
func Guard[T wire.Message](pred func(*HandlerContext, T) bool, chain ...Handler[T]) Chain[T] {
	guarded := make(Chain[T], 0, len(chain)+1)
	guarded = append(guarded, func(ctx *HandlerContext, msg T) bool {
		return !pred(ctx, msg)
	})
	return append(guarded, chain...)
}

// Dispatcher 每种消息一条处理链，启动时显式构造
type Dispatcher struct {
	Version    Chain[*wire.MsgVersion]
	VerAck     Chain[*wire.MsgVerAck]
	Ping       Chain[*wire.MsgPing]
	Pong       Chain[*wire.MsgPong]
	Addr       Chain[*wire.MsgAddr]
	GetAddr    Chain[*wire.MsgGetAddr]
	Inv        Chain[*wire.MsgInv]
	GetData    Chain[*wire.MsgGetData]
	NotFound   Chain[*wire.MsgNotFound]
	GetBlocks  Chain[*wire.MsgGetBlocks]
	GetHeaders Chain[*wire.MsgGetHeaders]
	Headers    Chain[*wire.MsgHeaders]
	Block      Chain[*wire.MsgBlock]
	Tx         Chain[*wire.MsgTx]
	Unknown    Chain[*wire.MsgUnknown]
}

// Dispatch 把 msg 交给对应类型的处理链
func (d *Dispatcher) Dispatch(ctx *HandlerContext, msg wire.Message) bool {
	var handled bool
	switch m := msg.(type) {
	case *wire.MsgVersion:
		handled = d.Version.Handle(ctx, m)
	case *wire.MsgVerAck:
		handled = d.VerAck.Handle(ctx, m)
	case *wire.MsgPing:
		handled = d.Ping.Handle(ctx, m)
	case *wire.MsgPong:
		handled = d.Pong.Handle(ctx, m)
	case *wire.MsgAddr:
		handled = d.Addr.Handle(ctx, m)
	case *wire.MsgGetAddr:
		handled = d.GetAddr.Handle(ctx, m)
	case *wire.MsgInv:
		handled = d.Inv.Handle(ctx, m)
	case *wire.MsgGetData:
		handled = d.GetData.Handle(ctx, m)
	case *wire.MsgNotFound:
		handled = d.NotFound.Handle(ctx, m)
	case *wire.MsgGetBlocks:
		handled = d.GetBlocks.Handle(ctx, m)
	case *wire.MsgGetHeaders:
		handled = d.GetHeaders.Handle(ctx, m)
	case *wire.MsgHeaders:
		handled = d.Headers.Handle(ctx, m)
	case *wire.MsgBlock:
		handled = d.Block.Handle(ctx, m)
	case *wire.MsgTx:
		handled = d.Tx.Handle(ctx, m)
	case *wire.MsgUnknown:
		handled = d.Unknown.Handle(ctx, m)
	}
	outcome := "unhandled"
	if handled {
		outcome = "handled"
	}
	dispatchOutcomes.WithLabelValues(commandLabel(msg), outcome).Inc()
	return handled
}

// commandLabel 未知命令统一归到一个标签下
func commandLabel(msg wire.Message) string {
	if _, ok := msg.(*wire.MsgUnknown); ok {
		return "unknown"
	}
	return msg.Command()
}
