// Package chain reads live contract state at a given block and registers
// newly deployed contracts for event delivery.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"PoolIndexer/internal/event"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrUnexpectedOutput is returned when a call decodes to the wrong shape.
var ErrUnexpectedOutput = errors.New("unexpected contract output")

// ContractReader exposes best-effort reads of pool contracts. Every read
// is pinned to the block of the event being processed.
type ContractReader interface {
	Name(ctx context.Context, address string, block uint64) (string, error)
	TokenPrice(ctx context.Context, address string, block uint64) (*big.Int, error)
	TotalSupply(ctx context.Context, address string, block uint64) (*big.Int, error)
	PerformanceFee(ctx context.Context, address string, block uint64) (*big.Int, error)
	MaxSupply(ctx context.Context, address string, block uint64) (*big.Int, error)
	SeedPrice(ctx context.Context, address string, block uint64) (*big.Int, error)
	AvailableTokensPerClass(ctx context.Context, address string, block uint64) ([4]*big.Int, error)
	Positions(ctx context.Context, address string, block uint64) ([]string, []*big.Int, error)
}

// Caller executes an eth_call. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return client, nil
}

// EthReader implements ContractReader over eth_call.
type EthReader struct {
	caller Caller
	abi    abi.ABI
}

func NewEthReader(caller Caller) (*EthReader, error) {
	parsed, err := abi.JSON(strings.NewReader(investmentABI))
	if err != nil {
		return nil, fmt.Errorf("parse investment abi: %w", err)
	}
	return &EthReader{caller: caller, abi: parsed}, nil
}

func (r *EthReader) call(ctx context.Context, address string, block uint64, method string) ([]interface{}, error) {
	data, err := r.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := common.HexToAddress(address)
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("call %s on %s at %d: %w", method, address, block, err)
	}

	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *EthReader) callUint(ctx context.Context, address string, block uint64, method string) (*big.Int, error) {
	values, err := r.call(ctx, address, block, method)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: %w", method, ErrUnexpectedOutput)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T: %w", method, values[0], ErrUnexpectedOutput)
	}
	return v, nil
}

func (r *EthReader) Name(ctx context.Context, address string, block uint64) (string, error) {
	values, err := r.call(ctx, address, block, MethodName)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", fmt.Errorf("%s: %w", MethodName, ErrUnexpectedOutput)
	}
	name, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned %T: %w", MethodName, values[0], ErrUnexpectedOutput)
	}
	return name, nil
}

func (r *EthReader) TokenPrice(ctx context.Context, address string, block uint64) (*big.Int, error) {
	return r.callUint(ctx, address, block, MethodTokenPrice)
}

func (r *EthReader) TotalSupply(ctx context.Context, address string, block uint64) (*big.Int, error) {
	return r.callUint(ctx, address, block, MethodTotalSupply)
}

func (r *EthReader) PerformanceFee(ctx context.Context, address string, block uint64) (*big.Int, error) {
	return r.callUint(ctx, address, block, MethodPerformanceFee)
}

func (r *EthReader) MaxSupply(ctx context.Context, address string, block uint64) (*big.Int, error) {
	return r.callUint(ctx, address, block, MethodMaxSupply)
}

func (r *EthReader) SeedPrice(ctx context.Context, address string, block uint64) (*big.Int, error) {
	return r.callUint(ctx, address, block, MethodSeedPrice)
}

func (r *EthReader) AvailableTokensPerClass(ctx context.Context, address string, block uint64) ([4]*big.Int, error) {
	var counts [4]*big.Int
	values, err := r.call(ctx, address, block, MethodAvailableTokensPerClass)
	if err != nil {
		return counts, err
	}
	if len(values) != 4 {
		return counts, fmt.Errorf("%s: %w", MethodAvailableTokensPerClass, ErrUnexpectedOutput)
	}
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return counts, fmt.Errorf("%s[%d] returned %T: %w", MethodAvailableTokensPerClass, i, v, ErrUnexpectedOutput)
		}
		counts[i] = n
	}
	return counts, nil
}

func (r *EthReader) Positions(ctx context.Context, address string, block uint64) ([]string, []*big.Int, error) {
	values, err := r.call(ctx, address, block, MethodPositions)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != 3 {
		return nil, nil, fmt.Errorf("%s: %w", MethodPositions, ErrUnexpectedOutput)
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("%s addresses returned %T: %w", MethodPositions, values[0], ErrUnexpectedOutput)
	}
	balances, ok := values[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("%s balances returned %T: %w", MethodPositions, values[1], ErrUnexpectedOutput)
	}

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = event.NormalizeAddress(a.Hex())
	}
	return out, balances, nil
}
