package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/virtue186/xnode/core"
	"github.com/virtue186/xnode/network"
	"github.com/virtue186/xnode/types"
	"github.com/virtue186/xnode/wire"
)

// JSON-RPC 2.0 错误码
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeNotFound       = -5
)

// TxAnnouncer 通过 RPC 提交的交易需要宣告给其他节点
type TxAnnouncer interface {
	AnnounceTx(hash types.Hash, origin network.PeerID)
}

type ServerOpts struct {
	ListenAddr string
	Logger     log.Logger
	BlockChain *core.BlockChain
	TxPool     *core.TxPool
	Peers      network.Communicator
	Announcer  TxAnnouncer
}

// Server JSON-RPC 接口和 /metrics
type Server struct {
	ServerOpts
	router *mux.Router
}

func NewServer(opts ServerOpts) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	s := &Server{ServerOpts: opts}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 阻塞到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.Logger.Log("msg", "starting API server", "listenAddr", s.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type Response struct {
	Version string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, Response{Error: &Error{Code: codeParseError, Message: "parse error"}})
		return
	}
	if req.Method == "" {
		writeResponse(w, http.StatusBadRequest, Response{Error: &Error{Code: codeInvalidRequest, Message: "missing method"}, ID: req.ID})
		return
	}

	s.Logger.Log("msg", "received rpc request", "method", req.Method)
	result, rpcErr := s.Invoke(req.Method, req.Params)
	if rpcErr != nil {
		status := http.StatusOK
		if rpcErr.Code == codeMethodNotFound {
			status = http.StatusNotFound
		}
		writeResponse(w, status, Response{Error: rpcErr, ID: req.ID})
		return
	}
	writeResponse(w, http.StatusOK, Response{Result: result, ID: req.ID})
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	resp.Version = "2.0"
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Invoke 不经过 HTTP 直接执行一个方法，params 为按位置排列的 JSON 数组
func (s *Server) Invoke(method string, params json.RawMessage) (any, *Error) {
	switch method {
	case "getblockcount":
		return s.BlockChain.BestHeight(), nil
	case "getbestblockhash":
		return s.BlockChain.BestHash().String(), nil
	case "getblockhash":
		var height uint32
		if err := positional(params, &height); err != nil {
			return nil, err
		}
		hash, err := s.BlockChain.BlockHashByHeight(height)
		if err != nil {
			return nil, &Error{Code: codeNotFound, Message: fmt.Sprintf("block height %d out of range", height)}
		}
		return hash.String(), nil
	case "getblock":
		var hashStr string
		if err := positional(params, &hashStr); err != nil {
			return nil, err
		}
		return s.getBlock(hashStr)
	case "getpeerinfo":
		return s.Peers.PeerInfos(), nil
	case "getconnectioncount":
		return len(s.Peers.PeerInfos()), nil
	case "getrawmempool":
		hashes := s.TxPool.Hashes()
		out := make([]string, 0, len(hashes))
		for _, h := range hashes {
			out = append(out, h.String())
		}
		return out, nil
	case "sendrawtransaction":
		var txHex string
		if err := positional(params, &txHex); err != nil {
			return nil, err
		}
		return s.sendRawTransaction(txHex)
	}
	return nil, &Error{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// positional 把参数数组依次解码到 dst
func positional(params json.RawMessage, dst ...any) *Error {
	var raw []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &raw); err != nil {
			return &Error{Code: codeInvalidParams, Message: "params must be an array"}
		}
	}
	if len(raw) != len(dst) {
		return &Error{Code: codeInvalidParams, Message: fmt.Sprintf("expected %d params, got %d", len(dst), len(raw))}
	}
	for i := range dst {
		if err := json.Unmarshal(raw[i], dst[i]); err != nil {
			return &Error{Code: codeInvalidParams, Message: fmt.Sprintf("param %d: %v", i, err)}
		}
	}
	return nil
}

type BlockResult struct {
	Hash              string   `json:"hash"`
	Height            uint32   `json:"height"`
	Version           int32    `json:"version"`
	PreviousBlockHash string   `json:"previousblockhash"`
	MerkleRoot        string   `json:"merkleroot"`
	Time              uint32   `json:"time"`
	Bits              string   `json:"bits"`
	Nonce             uint32   `json:"nonce"`
	Tx                []string `json:"tx"`
}

func (s *Server) getBlock(hashStr string) (any, *Error) {
	hash, err := types.HashFromString(hashStr)
	if err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: err.Error()}
	}
	block, err := s.BlockChain.GetBlock(hash)
	if errors.Is(err, core.ErrBlockNotFound) {
		return nil, &Error{Code: codeNotFound, Message: "block not found"}
	}
	if err != nil {
		return nil, &Error{Code: codeInternalError, Message: err.Error()}
	}
	height, err := s.BlockChain.BlockHeight(hash)
	if err != nil {
		return nil, &Error{Code: codeInternalError, Message: err.Error()}
	}

	result := BlockResult{
		Hash:              hash.String(),
		Height:            height,
		Version:           block.Header.Version,
		PreviousBlockHash: block.Header.PrevBlock.String(),
		MerkleRoot:        block.Header.MerkleRoot.String(),
		Time:              block.Header.Timestamp,
		Bits:              fmt.Sprintf("%08x", block.Header.Bits),
		Nonce:             block.Header.Nonce,
	}
	for _, h := range block.TxHashes() {
		result.Tx = append(result.Tx, h.String())
	}
	return result, nil
}

// sendRawTransaction 参数是 tx 消息载荷的十六进制编码
func (s *Server) sendRawTransaction(txHex string) (any, *Error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "transaction is not valid hex"}
	}
	msg, err := wire.DecodeMessage(wire.CmdTx, raw)
	if err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: fmt.Sprintf("decode transaction: %v", err)}
	}
	tx := msg.(*wire.MsgTx)
	hash := tx.TxHash()
	if s.BlockChain.HasTransaction(hash) {
		return nil, &Error{Code: codeInvalidParams, Message: "transaction already in block chain"}
	}
	if s.TxPool.Add(tx) {
		if s.Announcer != nil {
			s.Announcer.AnnounceTx(hash, network.PeerID(0))
		}
	} else if !s.TxPool.Has(hash) {
		return nil, &Error{Code: codeInternalError, Message: "transaction pool is full"}
	}
	s.Logger.Log("msg", "transaction received via api", "hash", hash)
	return hash.String(), nil
}
