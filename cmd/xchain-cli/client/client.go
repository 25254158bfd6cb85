package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/virtue186/xnode/api"
	"github.com/virtue186/xnode/network"
)

// Client 是一个与 xnode 节点 RPC API 交互的客户端
type Client struct {
	Endpoint string
	http     *http.Client
}

func New(endpoint string) *Client {
	return &Client{
		Endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// call 发送一次请求并把 result 解码到 out
func (c *Client) call(method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.Endpoint, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to connect to API server: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *api.Error      `json:"error"`
	}
	if err := json.Unmarshal(bodyBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w\nResponse body: %s", err, string(bodyBytes))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("received empty result from API")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *Client) GetBlockCount() (uint32, error) {
	var n uint32
	err := c.call("getblockcount", &n)
	return n, err
}

func (c *Client) GetBestBlockHash() (string, error) {
	var hash string
	err := c.call("getbestblockhash", &hash)
	return hash, err
}

func (c *Client) GetBlockHash(height uint32) (string, error) {
	var hash string
	err := c.call("getblockhash", &hash, height)
	return hash, err
}

func (c *Client) GetBlock(hash string) (*api.BlockResult, error) {
	var block api.BlockResult
	if err := c.call("getblock", &block, hash); err != nil {
		return nil, err
	}
	return &block, nil
}

func (c *Client) GetPeerInfo() ([]network.PeerInfo, error) {
	var infos []network.PeerInfo
	err := c.call("getpeerinfo", &infos)
	return infos, err
}

func (c *Client) GetConnectionCount() (int, error) {
	var n int
	err := c.call("getconnectioncount", &n)
	return n, err
}

func (c *Client) GetRawMempool() ([]string, error) {
	var hashes []string
	err := c.call("getrawmempool", &hashes)
	return hashes, err
}

// SendRawTransaction txHex 是 tx 消息载荷的十六进制编码，返回交易哈希
func (c *Client) SendRawTransaction(txHex string) (string, error) {
	var hash string
	err := c.call("sendrawtransaction", &hash, txHex)
	return hash, err
}
