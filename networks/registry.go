// Package networks holds the static per-chain registry and the
// cross-network transaction locator.
package networks

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/types"
)

// Client is the RPC surface the engine needs from a network. It is
// satisfied by *ethclient.Client and mocked in tests.
type Client interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens an RPC client for an endpoint. Injectable for tests.
type Dialer func(rpcURL string) (Client, error)

// EthDial is the production dialer backed by go-ethereum's ethclient.
func EthDial(rpcURL string) (Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	return c, nil
}

// handle pairs a descriptor with its lazily-dialed client.
type handle struct {
	desc types.NetworkDescriptor

	mu     sync.Mutex
	client Client
}

func (h *handle) clientFor(dial Dialer) (Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}
	c, err := dial(h.desc.RPCURL)
	if err != nil {
		return nil, err
	}
	h.client = c
	return c, nil
}

// Registry stores the immutable network descriptors, keyed by both the
// decimal and 0x-hex chain-id strings, preserving registration order.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[string]*handle
	ordered []*handle

	dial Dialer
	log  logger.Logger
}

// NewRegistry creates an empty registry. A nil dialer defaults to EthDial,
// a nil logger to the noop logger.
func NewRegistry(dial Dialer, log logger.Logger) *Registry {
	if dial == nil {
		dial = EthDial
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Registry{
		byKey: make(map[string]*handle),
		dial:  dial,
		log:   log,
	}
}

// Register adds a network descriptor under both its decimal and hex keys.
// Registering an already-known chain id is a no-op.
func (r *Registry) Register(desc types.NetworkDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[desc.DecimalKey()]; exists {
		return
	}

	h := &handle{desc: desc}
	r.byKey[desc.DecimalKey()] = h
	r.byKey[desc.HexKey()] = h
	r.ordered = append(r.ordered, h)

	r.log.Info("network registered", map[string]any{
		"chain_id": desc.ChainID,
		"network":  desc.Name,
	})
}

// Get looks a descriptor up by chain-id key, accepting "137" and "0x89"
// style keys interchangeably (hex matching is case-insensitive).
func (r *Registry) Get(key string) (types.NetworkDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byKey[normalizeKey(key)]
	if !ok {
		return types.NetworkDescriptor{}, false
	}
	return h.desc, true
}

// All returns the descriptors in registration order.
func (r *Registry) All() []types.NetworkDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.NetworkDescriptor, len(r.ordered))
	for i, h := range r.ordered {
		out[i] = h.desc
	}
	return out
}

// Client returns the RPC client for a chain id, dialing it on first use.
func (r *Registry) Client(chainID uint64) (Client, error) {
	r.mu.RLock()
	h, ok := r.byKey[fmt.Sprintf("%d", chainID)]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewCoreError(types.ErrCodeInvalidInput,
			fmt.Sprintf("unknown chain id %d", chainID), nil)
	}
	return h.clientFor(r.dial)
}

// Close closes every client that was actually dialed.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.ordered {
		h.mu.Lock()
		if h.client != nil {
			h.client.Close()
			h.client = nil
		}
		h.mu.Unlock()
	}
}

func normalizeKey(key string) string {
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		return "0x" + strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X"))
	}
	return key
}
