// Package rpcclient is the JSON-RPC transport tinyevm forks a chain over.
// It is promoted from the teacher's rpc package and extended with the
// additional eth_ methods the fork provider needs (eth_blockNumber,
// eth_getTransactionCount, eth_getBlockByNumber), keeping the same manual
// envelope/http.Client shape rather than pulling in a heavier RPC client
// library — the teacher never reached for one and net/http is sufficient
// for the handful of read-only calls tinyevm issues.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client talks JSON-RPC to a single Ethereum node endpoint.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient builds a Client against endpoint using http.DefaultClient.
func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, HTTPClient: http.DefaultClient}
}

// normalizeBlock mirrors the teacher's lenient block-tag handling: any hex
// string that doesn't parse to a positive number falls back to "latest".
func normalizeBlock(blk string) string {
	n, ok := new(big.Int).SetString(strings.TrimLeft(blk, "0x"), 16)
	if !ok || n.Cmp(big.NewInt(0)) <= 0 {
		return "latest"
	}
	return blk
}

func blockTag(blockNumber *uint64) string {
	if blockNumber == nil {
		return "latest"
	}
	return hexutil.EncodeUint64(*blockNumber)
}

// GetCode fetches the deployed bytecode at address at the given block tag.
func (c *Client) GetCode(ctx context.Context, address, blk string) ([]byte, error) {
	rpcResp, err := c.call(ctx, "eth_getCode", []interface{}{address, normalizeBlock(blk)})
	if err != nil {
		return nil, err
	}
	var result string
	if err := unmarshalResult(rpcResp, &result); err != nil {
		return nil, err
	}
	return hexutil.MustDecode(result), nil
}

// GetStorageAt fetches a single storage slot.
func (c *Client) GetStorageAt(ctx context.Context, address, position, blk string) (common.Hash, error) {
	rpcResp, err := c.call(ctx, "eth_getStorageAt", []interface{}{address, position, normalizeBlock(blk)})
	if err != nil {
		return common.Hash{}, err
	}
	var result string
	if err := unmarshalResult(rpcResp, &result); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(result), nil
}

// GetBalance fetches the native balance of address.
func (c *Client) GetBalance(ctx context.Context, address, blk string) (*big.Int, error) {
	rpcResp, err := c.call(ctx, "eth_getBalance", []interface{}{address, normalizeBlock(blk)})
	if err != nil {
		return nil, err
	}
	var result string
	if err := unmarshalResult(rpcResp, &result); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("rpcclient: invalid balance in response: %s", result)
	}
	return balance, nil
}

// GetTransactionCount fetches the account nonce.
func (c *Client) GetTransactionCount(ctx context.Context, address, blk string) (uint64, error) {
	rpcResp, err := c.call(ctx, "eth_getTransactionCount", []interface{}{address, normalizeBlock(blk)})
	if err != nil {
		return 0, err
	}
	var result string
	if err := unmarshalResult(rpcResp, &result); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(result)
}

// GetBlockNumber fetches the chain's current block height.
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	rpcResp, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, err
	}
	var result string
	if err := unmarshalResult(rpcResp, &result); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(result)
}

// BlockHeader is the subset of eth_getBlockByNumber's result tinyevm cares
// about: enough to reconstruct deterministic block-hash lookups and to seed
// executor environment defaults on a fresh fork.
type BlockHeader struct {
	Number          uint64
	Hash            common.Hash
	ParentHash      common.Hash
	Timestamp       uint64
	Difficulty      *big.Int
	GasLimit        uint64
	BaseFeePerGas   *big.Int
}

type rawBlockHeader struct {
	Number        string `json:"number"`
	Hash          string `json:"hash"`
	ParentHash    string `json:"parentHash"`
	Timestamp     string `json:"timestamp"`
	Difficulty    string `json:"difficulty"`
	GasLimit      string `json:"gasLimit"`
	BaseFeePerGas string `json:"baseFeePerGas"`
}

// GetBlockByNumber fetches a block header (without full transaction
// bodies) at the given height.
func (c *Client) GetBlockByNumber(ctx context.Context, blockNumber uint64) (*BlockHeader, error) {
	rpcResp, err := c.call(ctx, "eth_getBlockByNumber", []interface{}{blockTag(&blockNumber), false})
	if err != nil {
		return nil, err
	}
	if rpcResp.Result == nil || string(rpcResp.Result) == "null" {
		return nil, nil
	}
	var raw rawBlockHeader
	if err := unmarshalResult(rpcResp, &raw); err != nil {
		return nil, err
	}

	header := &BlockHeader{}
	if raw.Number != "" {
		header.Number, err = hexutil.DecodeUint64(raw.Number)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode block number: %w", err)
		}
	}
	if raw.Hash != "" {
		header.Hash = common.HexToHash(raw.Hash)
	}
	if raw.ParentHash != "" {
		header.ParentHash = common.HexToHash(raw.ParentHash)
	}
	if raw.Timestamp != "" {
		header.Timestamp, err = hexutil.DecodeUint64(raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode timestamp: %w", err)
		}
	}
	if raw.Difficulty != "" {
		header.Difficulty = hexutil.MustDecodeBig(raw.Difficulty)
	}
	if raw.GasLimit != "" {
		header.GasLimit, err = hexutil.DecodeUint64(raw.GasLimit)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode gas limit: %w", err)
		}
	}
	if raw.BaseFeePerGas != "" {
		header.BaseFeePerGas = hexutil.MustDecodeBig(raw.BaseFeePerGas)
	}
	return header, nil
}

type request struct {
	ID      int           `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID      int             `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Err     *errResponse    `json:"error,omitempty"`
}

type errResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *errResponse) Error() string {
	return fmt.Sprintf(`{"code": "%d", "message": "%s"}`, e.Code, e.Message)
}

func unmarshalResult(resp *response, out interface{}) error {
	if resp.Err != nil {
		return resp.Err
	}
	return json.Unmarshal(resp.Result, out)
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (*response, error) {
	payload := request{ID: 1, JSONRpc: "2.0", Method: method, Params: params}
	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: post: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: read body: %w", err)
	}

	var result response
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("rpcclient: decode response: %w", err)
	}
	return &result, nil
}
