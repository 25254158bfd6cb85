package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/virtue186/xnode/wire"
	"golang.org/x/time/rate"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultInboundRate  = 200
	defaultInboundBurst = 500
)

// ErrServerClosed Serve 已经退出，不再接受新的出站连接
var ErrServerClosed = errors.New("server closed")

type ServerOpts struct {
	ListenAddr string
	Magic      wire.Magic
	Dispatcher *Dispatcher
	Peers      *PeerSet
	// InboundRate 每个连接每秒处理的消息数上限
	InboundRate   rate.Limit
	InboundBurst  int
	SendQueueSize int
	DialTimeout   time.Duration
	// OnConnect 在连接开始读消息之前调用，出站连接在这里发送 version
	OnConnect func(*HandlerContext)
	// OnDisconnect 连接关闭后调用
	OnDisconnect func(Peer, error)
}

// Server 接受和发起 TCP 连接，每个连接一个 goroutine 顺序地读取、解码和分发消息
type Server struct {
	ServerOpts

	listener net.Listener
	nextID   atomic.Uint64
	wg       sync.WaitGroup

	lock    sync.Mutex
	ready   chan struct{}
	closing bool
}

func NewServer(opts ServerOpts) *Server {
	if opts.Peers == nil {
		opts.Peers = NewPeerSet(0)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = &Dispatcher{}
	}
	if opts.InboundRate == 0 {
		opts.InboundRate = defaultInboundRate
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = defaultInboundBurst
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Server{
		ServerOpts: opts,
		ready:      make(chan struct{}),
	}
}

// ListenAndServe 监听 ListenAddr 并处理入站连接，直到 ctx 结束
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在已有的 listener 上接受连接
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lock.Lock()
	s.listener = ln
	close(s.ready)
	s.lock.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logrus.Infof("TCP server listening on: %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.lock.Lock()
				s.closing = true
				s.lock.Unlock()
				s.Peers.CloseAll()
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logrus.Errorf("TCP accept error: %s", err)
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn, true)
		}()
	}
}

// Addr 在 ListenAndServe 开始监听后返回实际地址
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *Server) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: s.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// DialAndServe 建立出站连接并处理到连接关闭为止
func (s *Server) DialAndServe(ctx context.Context, addr string) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	return s.ServeConn(ctx, conn, false)
}

// Dial 建立出站连接并在后台处理
func (s *Server) Dial(ctx context.Context, addr string) error {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	// Serve 开始等待连接退出之后不再登记新连接
	s.lock.Lock()
	if s.closing {
		s.lock.Unlock()
		conn.Close()
		return ErrServerClosed
	}
	s.wg.Add(1)
	s.lock.Unlock()
	go func() {
		defer s.wg.Done()
		s.ServeConn(ctx, conn, false)
	}()
	return nil
}

// ServeConn 处理一个连接直到它关闭，返回关闭原因
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, inbound bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := PeerID(s.nextID.Add(1))
	peer := NewTCPPeer(id, conn, inbound, s.Magic, s.SendQueueSize)
	log := logrus.WithFields(logrus.Fields{
		"peer":    peer.Addr(),
		"inbound": inbound,
	})

	if err := s.Peers.Add(peer); err != nil {
		log.Warnf("rejecting connection: %v", err)
		conn.Close()
		return err
	}
	log.Info("new peer connected")

	defer func() {
		peer.Close()
		s.Peers.Remove(id)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			log.Infof("dropping peer connection, reason: %v", err)
		} else {
			log.Warnf("dropping peer connection, reason: %v", err)
		}
		if s.OnDisconnect != nil {
			s.OnDisconnect(peer, err)
		}
	}()

	stop := context.AfterFunc(ctx, func() { peer.Close() })
	defer stop()
	go peer.writeLoop()

	hctx := NewHandlerContext(ctx, peer, s.Peers)
	if s.OnConnect != nil {
		s.OnConnect(hctx)
		if err := hctx.Err(); err != nil {
			return err
		}
	}

	limiter := rate.NewLimiter(s.InboundRate, s.InboundBurst)
	reader := wire.NewEnvelopeReader(countingReader{r: conn, n: &peer.bytesReceived}, s.Magic)
	for {
		env, err := reader.ReadEnvelope()
		if err != nil {
			if wire.IsFramingError(err) {
				// 丢掉这一帧，下一次读取会重新对齐到 magic
				wireErrors.WithLabelValues("framing").Inc()
				log.Warnf("framing error: %v", err)
				continue
			}
			if errors.Is(err, wire.ErrChecksumMismatch) {
				wireErrors.WithLabelValues("checksum").Inc()
			}
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		msg, err := wire.DecodeMessage(env.Command, env.Payload)
		if err != nil {
			wireErrors.WithLabelValues("decode").Inc()
			log.WithField("command", env.Command).Warnf("ignoring malformed message: %v", err)
			continue
		}
		messagesReceived.WithLabelValues(commandLabel(msg)).Inc()

		if !s.Dispatcher.Dispatch(hctx, msg) && logrus.IsLevelEnabled(logrus.DebugLevel) {
			log.WithField("command", msg.Command()).Debugf("unhandled message: %s", spew.Sdump(msg))
		}
		if err := hctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", msg.Command(), err)
		}
	}
}

// Wait 等待所有连接处理完毕
func (s *Server) Wait() {
	s.wg.Wait()
}
