package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// ErrProtocolViolation 对方违反协议，连接需要关闭
var ErrProtocolViolation = errors.New("protocol violation")

// Communicator 向当前连接或其他连接发送消息的能力
type Communicator interface {
	SendTo(id PeerID, msg wire.Message) error
	// Broadcast 发给除 except 以外所有完成握手的节点，返回发送成功的个数
	Broadcast(msg wire.Message, except PeerID) int
	PeerInfos() []PeerInfo
}

// HandshakeState 握手进度
type HandshakeState struct {
	VersionSent     bool
	VersionReceived bool
	VerAckReceived  bool
}

func (h HandshakeState) Complete() bool {
	return h.VersionReceived && h.VerAckReceived
}

// SyncState 区块下载在单个连接上的进度
type SyncState struct {
	// PeerHeight 对方在 version 中声明的高度，收到更高的区块时随之更新
	PeerHeight int32
	inFlight   map[types.Hash]struct{}

	// 上一次 getblocks 的起点和终点，避免重复发送相同请求
	lastBegin types.Hash
	lastStop  types.Hash
}

func (s *SyncState) MarkInFlight(hash types.Hash) {
	if s.inFlight == nil {
		s.inFlight = make(map[types.Hash]struct{})
	}
	s.inFlight[hash] = struct{}{}
}

func (s *SyncState) IsInFlight(hash types.Hash) bool {
	_, ok := s.inFlight[hash]
	return ok
}

// Received 把 hash 移出在途集合，返回它原先是否在途
func (s *SyncState) Received(hash types.Hash) bool {
	_, ok := s.inFlight[hash]
	delete(s.inFlight, hash)
	return ok
}

func (s *SyncState) InFlight() int {
	return len(s.inFlight)
}

// ShouldRequest 与上一次 getblocks 相同时返回 false，否则记下这次请求
func (s *SyncState) ShouldRequest(begin, stop types.Hash) bool {
	if begin == s.lastBegin && stop == s.lastStop {
		return false
	}
	s.lastBegin, s.lastStop = begin, stop
	return true
}

// HandlerContext 单个连接的处理上下文，只由该连接的分发循环使用
type HandlerContext struct {
	ctx    context.Context
	Peer   Peer
	Comm   Communicator
	Logger *logrus.Entry

	Handshake HandshakeState
	Sync      SyncState

	err error
}

func NewHandlerContext(ctx context.Context, peer Peer, comm Communicator) *HandlerContext {
	return &HandlerContext{
		ctx:  ctx,
		Peer: peer,
		Comm: comm,
		Logger: logrus.WithFields(logrus.Fields{
			"peer":    peer.Addr(),
			"inbound": peer.Inbound(),
		}),
	}
}

// Context 连接关闭或节点退出时结束
func (c *HandlerContext) Context() context.Context {
	return c.ctx
}

// Send 发给当前连接的对方
func (c *HandlerContext) Send(msg wire.Message) {
	if err := c.Peer.Send(msg); err != nil {
		c.Logger.WithField("command", msg.Command()).Warnf("send failed: %v", err)
		if errors.Is(err, ErrSendQueueFull) {
			c.Fail(err)
		}
	}
}

// Fail 记录一个致命错误，当前消息处理完后连接会被关闭。只保留第一个错误
func (c *HandlerContext) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Violation 以 ErrProtocolViolation 结束连接
func (c *HandlerContext) Violation(format string, args ...any) {
	c.Fail(fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...)))
}

func (c *HandlerContext) Err() error {
	return c.err
}
