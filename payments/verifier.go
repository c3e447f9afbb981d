// Package payments validates claimed payment transactions against an
// expected payer, amount and token. Verification is hash-based; a legacy
// block-scanning fallback exists for callers without a payment hash.
package payments

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/networks"
	"github.com/chainvoice/txcore/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// TokenType distinguishes native-currency from ERC20 payments.
type TokenType string

const (
	TokenTypeNative TokenType = "native"
	TokenTypeERC20  TokenType = "erc20"
)

var (
	// nativeTolerance is the absolute tolerance for native payments,
	// in native units.
	nativeTolerance = decimal.RequireFromString("0.000001")

	// tokenTolerance is the absolute tolerance for ERC20 payments, in
	// token units at the stated decimals.
	tokenTolerance = decimal.RequireFromString("0.01")
)

// MetadataResolver supplies decimals for ERC20 amount comparison.
type MetadataResolver interface {
	Resolve(ctx context.Context, chainID uint64, addr common.Address) types.TokenMetadata
}

// Verifier checks claimed payments against the configured service wallet.
type Verifier struct {
	reg    *networks.Registry
	loc    *networks.Locator
	tokens MetadataResolver

	serviceAddr      common.Address
	serviceTokenAddr common.Address
	scanDepth        uint64

	log logger.Logger
	rec metrics.Recorder
}

// NewVerifier builds a verifier. serviceAddr is required: payment
// verification refuses to run without a configured service wallet.
// serviceTokenAddr falls back to serviceAddr when zero.
func NewVerifier(reg *networks.Registry, loc *networks.Locator, tokens MetadataResolver, serviceAddr, serviceTokenAddr common.Address, scanDepth uint64, log logger.Logger, rec metrics.Recorder) (*Verifier, error) {
	if serviceAddr == (common.Address{}) {
		return nil, types.ErrNotConfigured
	}
	if serviceTokenAddr == (common.Address{}) {
		serviceTokenAddr = serviceAddr
	}
	if scanDepth == 0 {
		scanDepth = 50
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Verifier{
		reg:              reg,
		loc:              loc,
		tokens:           tokens,
		serviceAddr:      serviceAddr,
		serviceTokenAddr: serviceTokenAddr,
		scanDepth:        scanDepth,
		log:              log,
		rec:              rec,
	}, nil
}

// VerifyByHash checks that the referenced transaction is a successful
// payment of expectedAmount from payer to the service wallet. A simple
// non-match returns (false, nil); malformed input returns an error.
func (v *Verifier) VerifyByHash(ctx context.Context, txHash common.Hash, payer common.Address, expectedAmount decimal.Decimal, tokenType TokenType, contract *common.Address) (bool, error) {
	if expectedAmount.IsNegative() || expectedAmount.IsZero() {
		return false, types.NewCoreError(types.ErrCodeInvalidInput, "expected amount must be positive", nil)
	}
	if tokenType == TokenTypeERC20 && contract == nil {
		return false, types.NewCoreError(types.ErrCodeInvalidInput, "ERC20 verification requires a contract address", nil)
	}

	desc, err := v.loc.Locate(ctx, txHash)
	if err != nil {
		return false, err
	}
	if desc == nil {
		v.log.Debug("payment hash not found on any network", map[string]any{"hash": txHash.Hex()})
		return false, nil
	}

	client, err := v.reg.Client(desc.ChainID)
	if err != nil {
		return false, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return false, nil
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		v.rec.IncCounter("payment_rejected_failed_tx", map[string]string{"component": "payments"})
		return false, nil
	}

	switch tokenType {
	case TokenTypeNative:
		return v.verifyNative(ctx, client, txHash, payer, expectedAmount, desc)
	case TokenTypeERC20:
		return v.verifyERC20(ctx, receipt, payer, expectedAmount, *contract, desc)
	default:
		return false, types.NewCoreError(types.ErrCodeInvalidInput,
			fmt.Sprintf("unknown token type %q", tokenType), nil)
	}
}

func (v *Verifier) verifyNative(ctx context.Context, client networks.Client, txHash common.Hash, payer common.Address, expected decimal.Decimal, desc *types.NetworkDescriptor) (bool, error) {
	tx, _, err := client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return false, nil
	}
	if tx.To() == nil || *tx.To() != v.serviceAddr {
		return false, nil
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(desc.ChainID)), tx)
	if err != nil || sender != payer {
		return false, nil
	}

	value := decimal.NewFromBigInt(tx.Value(), -18)
	matched := value.Sub(expected).Abs().LessThanOrEqual(nativeTolerance)
	if matched {
		v.rec.IncCounter("payment_verified_native", map[string]string{"component": "payments"})
	}
	return matched, nil
}

func (v *Verifier) verifyERC20(ctx context.Context, receipt *ethtypes.Receipt, payer common.Address, expected decimal.Decimal, contract common.Address, desc *types.NetworkDescriptor) (bool, error) {
	meta := v.tokens.Resolve(ctx, desc.ChainID, contract)

	for _, lg := range receipt.Logs {
		if lg.Address != contract {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic || len(lg.Data) < 32 {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if from != payer || to != v.serviceTokenAddr {
			continue
		}

		amount := decimal.NewFromBigInt(new(big.Int).SetBytes(lg.Data[:32]), -int32(meta.Decimals))
		if amount.Sub(expected).Abs().LessThanOrEqual(tokenTolerance) {
			v.rec.IncCounter("payment_verified_erc20", map[string]string{"component": "payments"})
			return true, nil
		}
	}
	return false, nil
}

// VerifyByScanning is the legacy fallback: it scans the most recent blocks
// of the first registered network for a native transfer matching
// payer/amount. The window is bounded, so payments older than scanDepth
// blocks are not found.
func (v *Verifier) VerifyByScanning(ctx context.Context, payer common.Address, expectedAmount decimal.Decimal) (bool, error) {
	if expectedAmount.IsNegative() || expectedAmount.IsZero() {
		return false, types.NewCoreError(types.ErrCodeInvalidInput, "expected amount must be positive", nil)
	}

	descs := v.reg.All()
	if len(descs) == 0 {
		return false, types.ErrNotConfigured
	}
	desc := descs[0]

	client, err := v.reg.Client(desc.ChainID)
	if err != nil {
		return false, err
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return false, types.NewCoreError(types.ErrCodeUpstreamTransient, "cannot read chain head", err)
	}

	start := time.Now()
	defer func() {
		v.rec.ObserveLatency("payment_scan", time.Since(start), map[string]string{"component": "payments"})
	}()

	signer := ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(desc.ChainID))
	lowest := uint64(0)
	if head > v.scanDepth {
		lowest = head - v.scanDepth
	}

	for n := head; n > lowest; n-- {
		block, err := client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			continue
		}
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != v.serviceAddr {
				continue
			}
			sender, err := ethtypes.Sender(signer, tx)
			if err != nil || sender != payer {
				continue
			}
			value := decimal.NewFromBigInt(tx.Value(), -18)
			if value.Sub(expectedAmount).Abs().LessThanOrEqual(nativeTolerance) {
				return true, nil
			}
		}
	}
	return false, nil
}
