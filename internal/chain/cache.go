package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingCaller memoizes eth_call results per (contract, block, calldata).
// State at a fixed block never changes, so cached results are exact.
// Calls without a block number are passed through.
type CachingCaller struct {
	next  Caller
	cache *lru.Cache[string, []byte]
}

func NewCachingCaller(next Caller, size int) (*CachingCaller, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &CachingCaller{next: next, cache: cache}, nil
}

func (c *CachingCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if blockNumber == nil || call.To == nil {
		return c.next.CallContract(ctx, call, blockNumber)
	}

	key := call.To.Hex() + ":" + blockNumber.String() + ":" + hex.EncodeToString(call.Data)
	if out, ok := c.cache.Get(key); ok {
		return out, nil
	}

	out, err := c.next.CallContract(ctx, call, blockNumber)
	if err != nil {
		// Failures are not cached; a later event may retry
		return nil, err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Len is the number of cached results.
func (c *CachingCaller) Len() int {
	return c.cache.Len()
}
