// Package fork implements the fork provider: a thin caching layer in front
// of rpcclient that the fork database consults whenever it needs state it
// doesn't have locally yet.
package fork

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tinyevm/tinyevm/cache"
	"github.com/tinyevm/tinyevm/rpcclient"
)

// Provider fetches remote chain state through an RPC client, checking a
// Cache first whenever the request is pinned to a specific block (and
// therefore immutable and safe to cache indefinitely).
//
// Provider has no goroutines or async runtime of its own. Every method
// takes a context.Context and blocks on the underlying net/http call; that
// is Go's idiomatic "cooperative runtime" and needs no extra machinery on
// top, unlike the tokio runtime the upstream implementation juggles
// explicitly.
type Provider struct {
	Chain  string
	Client *rpcclient.Client
	Cache  cache.Cache
}

// NewProvider builds a Provider. chain is a short label like "eth" used
// only to namespace cache entries; it does not have to be a real chain id.
func NewProvider(chain string, client *rpcclient.Client, c cache.Cache) *Provider {
	return &Provider{Chain: chain, Client: client, Cache: c}
}

// Clone returns a shallow copy that shares the same cache handle, matching
// the "cloned providers share the underlying cache" requirement.
func (p *Provider) Clone() *Provider {
	return &Provider{Chain: p.Chain, Client: p.Client, Cache: p.Cache.Clone()}
}

func blockForCache(blockNumber *uint64) (uint64, bool) {
	if blockNumber == nil {
		return 0, false
	}
	return *blockNumber, true
}

func (p *Provider) storeBestEffort(chain string, block uint64, api, hash, body string) {
	if err := p.Cache.Store(chain, block, api, hash, body); err != nil {
		log.Warn("fork provider: cache store failed", "api", api, "err", err)
	}
}

// GetBlockNumber returns the chain's current head block height. Never
// cached, since "latest" is a moving target.
func (p *Provider) GetBlockNumber(ctx context.Context) (uint64, error) {
	return p.Client.GetBlockNumber(ctx)
}

// GetTransactionCount returns the nonce of address at blockNumber (nil
// meaning "latest").
func (p *Provider) GetTransactionCount(ctx context.Context, address common.Address, blockNumber *uint64) (uint64, error) {
	const api = "eth_getTransactionCount"
	hash := address.Hex()

	if block, cacheable := blockForCache(blockNumber); cacheable {
		if body, err := p.Cache.Get(p.Chain, block, api, hash); err == nil {
			n, perr := parseUint64Hex(body)
			if perr == nil {
				return n, nil
			}
		}
	}

	n, err := p.Client.GetTransactionCount(ctx, address.Hex(), blockTag(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("fork: get transaction count: %w", err)
	}

	if block, cacheable := blockForCache(blockNumber); cacheable {
		p.storeBestEffort(p.Chain, block, api, hash, fmt.Sprintf("0x%x", n))
	}
	return n, nil
}

// GetBalance returns the native balance of address at blockNumber.
func (p *Provider) GetBalance(ctx context.Context, address common.Address, blockNumber *uint64) (*big.Int, error) {
	const api = "eth_getBalance"
	hash := address.Hex()

	if block, cacheable := blockForCache(blockNumber); cacheable {
		if body, err := p.Cache.Get(p.Chain, block, api, hash); err == nil {
			if n, ok := new(big.Int).SetString(body, 0); ok {
				return n, nil
			}
		}
	}

	balance, err := p.Client.GetBalance(ctx, address.Hex(), blockTag(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("fork: get balance: %w", err)
	}

	if block, cacheable := blockForCache(blockNumber); cacheable {
		p.storeBestEffort(p.Chain, block, api, hash, "0x"+balance.Text(16))
	}
	return balance, nil
}

// GetCode returns the deployed bytecode at address at blockNumber.
func (p *Provider) GetCode(ctx context.Context, address common.Address, blockNumber *uint64) ([]byte, error) {
	const api = "eth_getCode"
	hash := address.Hex()

	if block, cacheable := blockForCache(blockNumber); cacheable {
		if body, err := p.Cache.Get(p.Chain, block, api, hash); err == nil {
			return common.FromHex(body), nil
		}
	}

	code, err := p.Client.GetCode(ctx, address.Hex(), blockTag(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("fork: get code: %w", err)
	}

	if block, cacheable := blockForCache(blockNumber); cacheable {
		p.storeBestEffort(p.Chain, block, api, hash, common.Bytes2Hex(code))
	}
	return code, nil
}

// GetStorageAt returns a single storage slot of address at blockNumber.
func (p *Provider) GetStorageAt(ctx context.Context, address common.Address, index common.Hash, blockNumber *uint64) (common.Hash, error) {
	const api = "eth_getStorageAt"
	hash := fmt.Sprintf("%s-%s", address.Hex(), index.Hex())

	if block, cacheable := blockForCache(blockNumber); cacheable {
		if body, err := p.Cache.Get(p.Chain, block, api, hash); err == nil {
			return common.HexToHash(body), nil
		}
	}

	value, err := p.Client.GetStorageAt(ctx, address.Hex(), index.Hex(), blockTag(blockNumber))
	if err != nil {
		return common.Hash{}, fmt.Errorf("fork: get storage at: %w", err)
	}

	if block, cacheable := blockForCache(blockNumber); cacheable {
		p.storeBestEffort(p.Chain, block, api, hash, value.Hex())
	}
	return value, nil
}

// GetBlock returns the block header at number, or nil if it doesn't exist.
func (p *Provider) GetBlock(ctx context.Context, number uint64) (*rpcclient.BlockHeader, error) {
	const api = "eth_getBlockByNumber"
	hash := fmt.Sprintf("0x%x", number)

	if body, err := p.Cache.Get(p.Chain, number, api, hash); err == nil {
		var header rpcclient.BlockHeader
		if jerr := decodeJSON(body, &header); jerr == nil {
			return &header, nil
		}
	}

	header, err := p.Client.GetBlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("fork: get block: %w", err)
	}
	if header == nil {
		return nil, nil
	}

	if body, err := encodeJSON(header); err == nil {
		p.storeBestEffort(p.Chain, number, api, hash, body)
	}
	return header, nil
}

func blockTag(blockNumber *uint64) string {
	if blockNumber == nil {
		return "latest"
	}
	return fmt.Sprintf("0x%x", *blockNumber)
}

func parseUint64Hex(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "0x%x", &n)
	return n, err
}
