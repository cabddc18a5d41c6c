// Package relay reads balances through an EVM JSON-RPC relay in front of the
// ledger. Native balances come back in weibar and are scaled to tinybar;
// token balances are read with ERC-20 balanceOf on the token's long-zero
// address.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"custody-chain/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// weibarPerTinybar: the relay reports native balances with 18 decimals, the ledger uses 8.
var weibarPerTinybar = big.NewInt(10_000_000_000)

// chainReader is the subset of ethclient used here; the go-ethereum
// simulated backend satisfies it as well.
type chainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader implements ledger.BalanceReader against a JSON-RPC relay.
type Reader struct {
	backend chainReader
	erc20   abi.ABI
	rpc     *gethrpc.Client
	mu      sync.Mutex
}

// Dial connects to the relay endpoint.
func Dial(ctx context.Context, url string) (*Reader, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("未配置 JSON-RPC relay 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("连接 relay 失败: %w", err)
	}
	r, err := NewReader(ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	r.rpc = rpcClient
	return r, nil
}

// NewReader wraps an existing backend.
func NewReader(backend chainReader) (*Reader, error) {
	if backend == nil {
		return nil, errors.New("relay backend is nil")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Reader{backend: backend, erc20: parsed}, nil
}

// Close releases the RPC connection when the reader owns one.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rpc != nil {
		r.rpc.Close()
		r.rpc = nil
	}
}

// Balance returns the account balance in the asset's smallest unit.
func (r *Reader) Balance(ctx context.Context, account ledger.AccountID, asset ledger.AssetID) (uint64, error) {
	holder := account.LongZeroAddress()
	if asset.IsNative() {
		wei, err := r.backend.BalanceAt(ctx, holder, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: eth_getBalance: %v", ledger.ErrUnavailable, err)
		}
		return toUint64(new(big.Int).Quo(wei, weibarPerTinybar))
	}

	tokenAccount, err := asset.TokenAccount()
	if err != nil {
		return 0, err
	}
	token := tokenAccount.LongZeroAddress()
	input, err := r.erc20.Pack("balanceOf", holder)
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := r.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: balanceOf: %v", ledger.ErrUnavailable, err)
	}
	values, err := r.erc20.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return 0, fmt.Errorf("unpack balanceOf: %v", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return toUint64(amount)
}

func toUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("balance %s out of range", v)
	}
	return v.Uint64(), nil
}

var _ ledger.BalanceReader = (*Reader)(nil)
