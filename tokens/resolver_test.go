package tokens

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainvoice/txcore/config"
	"github.com/chainvoice/txcore/networks"
	"github.com/chainvoice/txcore/types"
)

var (
	symbolSelector   = erc20ABI.Methods["symbol"].ID
	decimalsSelector = erc20ABI.Methods["decimals"].ID
)

// metadataClient answers symbol()/decimals() eth_calls from a fixed table.
type metadataClient struct {
	symbols  map[common.Address][]byte // raw return data
	decimals map[common.Address]uint8
	fail     bool
}

func (m *metadataClient) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if m.fail {
		return nil, errors.New("execution reverted")
	}
	switch {
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(symbolSelector):
		ret, ok := m.symbols[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return ret, nil
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(decimalsSelector):
		dec, ok := m.decimals[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		out, err := erc20ABI.Methods["decimals"].Outputs.Pack(dec)
		return out, err
	}
	return nil, errors.New("unexpected call")
}

func (m *metadataClient) TransactionByHash(context.Context, common.Hash) (*ethtypes.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}
func (m *metadataClient) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}
func (m *metadataClient) BlockByNumber(context.Context, *big.Int) (*ethtypes.Block, error) {
	return nil, ethereum.NotFound
}
func (m *metadataClient) BlockNumber(context.Context) (uint64, error) { return 0, nil }
func (m *metadataClient) Close()                                      {}

func abiString(s string) []byte {
	out, err := erc20ABI.Methods["symbol"].Outputs.Pack(s)
	if err != nil {
		panic(err)
	}
	return out
}

func bytes32String(s string) []byte {
	var out [32]byte
	copy(out[:], s)
	return out[:]
}

func newTestResolver(t *testing.T, client *metadataClient) *Resolver {
	t.Helper()
	reg := networks.NewRegistry(func(string) (networks.Client, error) { return client, nil }, nil)
	reg.Register(types.NetworkDescriptor{ChainID: 137, Name: "polygon", RPCURL: "http://polygon.test", ExplorerBaseURL: "https://polygonscan.com", NativeSymbol: "POL"})
	return NewResolver(reg, config.Default().Stablecoins, nil, nil)
}

func TestResolveFromChain(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	client := &metadataClient{
		symbols:  map[common.Address][]byte{token: abiString("WETH")},
		decimals: map[common.Address]uint8{token: 18},
	}
	r := newTestResolver(t, client)

	meta := r.Resolve(context.Background(), 137, token)
	assert.Equal(t, "WETH", meta.Symbol)
	assert.Equal(t, uint8(18), meta.Decimals)
}

func TestResolveBytes32Symbol(t *testing.T) {
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	client := &metadataClient{
		symbols:  map[common.Address][]byte{token: bytes32String("MKR")},
		decimals: map[common.Address]uint8{token: 18},
	}
	r := newTestResolver(t, client)

	meta := r.Resolve(context.Background(), 137, token)
	assert.Equal(t, "MKR", meta.Symbol)
}

func TestResolveCacheIsPermanent(t *testing.T) {
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")
	client := &metadataClient{
		symbols:  map[common.Address][]byte{token: abiString("LINK")},
		decimals: map[common.Address]uint8{token: 18},
	}
	r := newTestResolver(t, client)

	first := r.Resolve(context.Background(), 137, token)
	require.Equal(t, "LINK", first.Symbol)

	// The backing client now behaves differently; the cache must not care.
	client.fail = true
	second := r.Resolve(context.Background(), 137, token)
	assert.Equal(t, first, second)
}

func TestResolveFallsBackToStablecoinTable(t *testing.T) {
	usdtPolygon := common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	client := &metadataClient{fail: true}
	r := newTestResolver(t, client)

	meta := r.Resolve(context.Background(), 137, usdtPolygon)
	assert.Equal(t, "USDT", meta.Symbol)
	assert.Equal(t, uint8(6), meta.Decimals)
}

func TestResolveSentinelWhenUnresolvable(t *testing.T) {
	unknown := common.HexToAddress("0x4444444444444444444444444444444444444444")
	client := &metadataClient{fail: true}
	r := newTestResolver(t, client)

	meta := r.Resolve(context.Background(), 137, unknown)
	assert.Equal(t, types.DefaultTokenMetadata(), meta)

	// Sentinel outcomes are cached too.
	client.fail = false
	client.symbols = map[common.Address][]byte{unknown: abiString("REAL")}
	client.decimals = map[common.Address]uint8{unknown: 8}
	again := r.Resolve(context.Background(), 137, unknown)
	assert.Equal(t, types.DefaultTokenMetadata(), again)
}

func TestResolveKeyIsCaseInsensitiveOnAddress(t *testing.T) {
	token := common.HexToAddress("0x5555555555555555555555555555555555555555")
	client := &metadataClient{
		symbols:  map[common.Address][]byte{token: abiString("UNI")},
		decimals: map[common.Address]uint8{token: 18},
	}
	r := newTestResolver(t, client)

	_ = r.Resolve(context.Background(), 137, token)
	client.fail = true

	// common.HexToAddress normalizes case, so mixed-case input hits the cache.
	meta := r.Resolve(context.Background(), 137, common.HexToAddress("0x5555555555555555555555555555555555555555"))
	assert.Equal(t, "UNI", meta.Symbol)
}
