// Package cache provides the provider-cache layer used by the fork
// provider to avoid re-fetching the same remote state across runs.
package cache

import "errors"

// Miss is returned by Get when no entry exists for the given key. It is
// not an error condition callers should log; a cache miss simply means
// "go fetch it from the node and store it".
var Miss = errors.New("cache: miss")

// Cache stores and retrieves raw RPC response bodies keyed by the chain,
// block number, JSON-RPC method name and a hash of the request parameters.
// Implementations must be safe for concurrent use and Clone-able so that a
// cloned fork provider can share the same underlying store.
type Cache interface {
	Store(chain string, block uint64, apiMethod, requestHash, body string) error
	Get(chain string, block uint64, apiMethod, requestHash string) (string, error)
	Clone() Cache
}
