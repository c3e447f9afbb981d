package payments

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainvoice/txcore/networks"
	"github.com/chainvoice/txcore/types"
)

const testChainID = 137

var (
	serviceAddr = common.HexToAddress("0x384Aa214be0B279cbf211e9b2C992d8633F77848")
	usdcAddr    = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
)

// paymentClient serves transactions, receipts and blocks for the scanner
// and hash-based verifier.
type paymentClient struct {
	txs      map[common.Hash]*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	blocks   map[uint64]*ethtypes.Block
	head     uint64
}

func (c *paymentClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (c *paymentClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *paymentClient) BlockByNumber(ctx context.Context, number *big.Int) (*ethtypes.Block, error) {
	b, ok := c.blocks[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return b, nil
}

func (c *paymentClient) BlockNumber(ctx context.Context) (uint64, error) { return c.head, nil }

func (c *paymentClient) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (c *paymentClient) Close() {}

// fixedMetadata always reports USDC-style 6 decimals.
type fixedMetadata struct{}

func (fixedMetadata) Resolve(context.Context, uint64, common.Address) types.TokenMetadata {
	return types.TokenMetadata{Symbol: "USDC", Decimals: 6}
}

func newPayerKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signTx(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int) *ethtypes.Transaction {
	t.Helper()
	signer := ethtypes.LatestSignerForChainID(big.NewInt(testChainID))
	return ethtypes.MustSignNewTx(key, signer, &ethtypes.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func successReceipt(logs ...*ethtypes.Log) *ethtypes.Receipt {
	return &ethtypes.Receipt{
		Status:            ethtypes.ReceiptStatusSuccessful,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1),
		BlockNumber:       big.NewInt(100),
		Logs:              logs,
	}
}

func newTestVerifier(t *testing.T, client *paymentClient) *Verifier {
	t.Helper()
	reg := networks.NewRegistry(func(string) (networks.Client, error) { return client, nil }, nil)
	reg.Register(types.NetworkDescriptor{
		ChainID:         testChainID,
		Name:            "polygon",
		RPCURL:          "http://polygon.test",
		ExplorerBaseURL: "https://polygonscan.com",
		NativeSymbol:    "POL",
	})
	loc := networks.NewLocator(reg, nil, nil)
	v, err := NewVerifier(reg, loc, fixedMetadata{}, serviceAddr, common.Address{}, 50, nil, nil)
	require.NoError(t, err)
	return v
}

// nativeUnits converts a decimal native amount to wei.
func nativeUnits(amount string) *big.Int {
	d := decimal.RequireFromString(amount)
	return d.Shift(18).BigInt()
}

func TestNewVerifierRequiresServiceAddress(t *testing.T) {
	reg := networks.NewRegistry(func(string) (networks.Client, error) { return nil, errors.New("n/a") }, nil)
	loc := networks.NewLocator(reg, nil, nil)

	_, err := NewVerifier(reg, loc, fixedMetadata{}, common.Address{}, common.Address{}, 0, nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConfiguration, types.ErrorCode(err))
}

func TestVerifyNativeWithinTolerance(t *testing.T) {
	key, payer := newPayerKey(t)
	// Paid expected - 0.0000005, inside the 1e-6 absolute tolerance.
	tx := signTx(t, key, serviceAddr, nativeUnits("0.9999995"))
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt()},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(1), TokenTypeNative, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyNativeOutsideTolerance(t *testing.T) {
	key, payer := newPayerKey(t)
	// Paid expected - 0.00001, outside tolerance.
	tx := signTx(t, key, serviceAddr, nativeUnits("0.99999"))
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt()},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(1), TokenTypeNative, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyNativeRejectsWrongPayer(t *testing.T) {
	key, _ := newPayerKey(t)
	_, otherPayer := newPayerKey(t)
	tx := signTx(t, key, serviceAddr, nativeUnits("1"))
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt()},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), otherPayer, decimal.NewFromInt(1), TokenTypeNative, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsFailedTransaction(t *testing.T) {
	key, payer := newPayerKey(t)
	tx := signTx(t, key, serviceAddr, nativeUnits("1"))
	receipt := successReceipt()
	receipt.Status = ethtypes.ReceiptStatusFailed
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): receipt},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(1), TokenTypeNative, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUnknownHashIsNonMatch(t *testing.T) {
	client := &paymentClient{}
	v := newTestVerifier(t, client)

	unknown := common.HexToHash("0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddead")
	ok, err := v.VerifyByHash(context.Background(), unknown, serviceAddr, decimal.NewFromInt(1), TokenTypeNative, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyERC20Match(t *testing.T) {
	key, payer := newPayerKey(t)
	tx := signTx(t, key, usdcAddr, big.NewInt(0))
	transfer := &ethtypes.Log{
		Address: usdcAddr,
		Topics:  []common.Hash{transferTopic, addressTopic(payer), addressTopic(serviceAddr)},
		Data:    common.LeftPadBytes(big.NewInt(25_000_000).Bytes(), 32), // 25 USDC
	}
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt(transfer)},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(25), TokenTypeERC20, &usdcAddr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyERC20ToleranceBounds(t *testing.T) {
	key, payer := newPayerKey(t)
	tx := signTx(t, key, usdcAddr, big.NewInt(0))
	// 24.995 USDC against an expected 25 is inside the 0.01 tolerance.
	transfer := &ethtypes.Log{
		Address: usdcAddr,
		Topics:  []common.Hash{transferTopic, addressTopic(payer), addressTopic(serviceAddr)},
		Data:    common.LeftPadBytes(big.NewInt(24_995_000).Bytes(), 32),
	}
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt(transfer)},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(25), TokenTypeERC20, &usdcAddr)
	require.NoError(t, err)
	assert.True(t, ok)

	// 24.9 USDC misses the tolerance.
	short := &ethtypes.Log{
		Address: usdcAddr,
		Topics:  []common.Hash{transferTopic, addressTopic(payer), addressTopic(serviceAddr)},
		Data:    common.LeftPadBytes(big.NewInt(24_900_000).Bytes(), 32),
	}
	tx2 := signTx(t, key, serviceAddr, big.NewInt(1))
	client.txs[tx2.Hash()] = tx2
	client.receipts[tx2.Hash()] = successReceipt(short)

	ok, err = v.VerifyByHash(context.Background(), tx2.Hash(), payer, decimal.NewFromInt(25), TokenTypeERC20, &usdcAddr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyERC20IgnoresOtherContractsAndRecipients(t *testing.T) {
	key, payer := newPayerKey(t)
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx := signTx(t, key, usdcAddr, big.NewInt(0))
	logs := []*ethtypes.Log{
		{
			// Right amount, wrong contract.
			Address: other,
			Topics:  []common.Hash{transferTopic, addressTopic(payer), addressTopic(serviceAddr)},
			Data:    common.LeftPadBytes(big.NewInt(25_000_000).Bytes(), 32),
		},
		{
			// Right contract, wrong recipient.
			Address: usdcAddr,
			Topics:  []common.Hash{transferTopic, addressTopic(payer), addressTopic(other)},
			Data:    common.LeftPadBytes(big.NewInt(25_000_000).Bytes(), 32),
		},
	}
	client := &paymentClient{
		txs:      map[common.Hash]*ethtypes.Transaction{tx.Hash(): tx},
		receipts: map[common.Hash]*ethtypes.Receipt{tx.Hash(): successReceipt(logs...)},
	}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByHash(context.Background(), tx.Hash(), payer, decimal.NewFromInt(25), TokenTypeERC20, &usdcAddr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyERC20RequiresContractAddress(t *testing.T) {
	client := &paymentClient{}
	v := newTestVerifier(t, client)

	_, err := v.VerifyByHash(context.Background(), common.Hash{}, serviceAddr, decimal.NewFromInt(1), TokenTypeERC20, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidInput, types.ErrorCode(err))
}

func TestVerifyRejectsNonPositiveAmount(t *testing.T) {
	client := &paymentClient{}
	v := newTestVerifier(t, client)

	_, err := v.VerifyByHash(context.Background(), common.Hash{}, serviceAddr, decimal.Zero, TokenTypeNative, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInvalidInput, types.ErrorCode(err))
}

func TestVerifyByScanningFindsRecentPayment(t *testing.T) {
	key, payer := newPayerKey(t)
	paymentTx := signTx(t, key, serviceAddr, nativeUnits("2"))

	blocks := map[uint64]*ethtypes.Block{}
	for n := uint64(95); n <= 100; n++ {
		var txs []*ethtypes.Transaction
		if n == 97 {
			txs = []*ethtypes.Transaction{paymentTx}
		}
		header := &ethtypes.Header{Number: new(big.Int).SetUint64(n)}
		blocks[n] = ethtypes.NewBlockWithHeader(header).WithBody(ethtypes.Body{Transactions: txs})
	}
	client := &paymentClient{blocks: blocks, head: 100}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByScanning(context.Background(), payer, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyByScanningBoundedWindow(t *testing.T) {
	key, payer := newPayerKey(t)
	oldPayment := signTx(t, key, serviceAddr, nativeUnits("2"))

	// The payment sits below the scan window and must not be found.
	blocks := map[uint64]*ethtypes.Block{
		30: ethtypes.NewBlockWithHeader(&ethtypes.Header{Number: big.NewInt(30)}).
			WithBody(ethtypes.Body{Transactions: []*ethtypes.Transaction{oldPayment}}),
	}
	client := &paymentClient{blocks: blocks, head: 100}
	v := newTestVerifier(t, client)

	ok, err := v.VerifyByScanning(context.Background(), payer, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.False(t, ok)
}
