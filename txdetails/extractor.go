// Package txdetails turns a transaction hash into normalized, priced
// transaction details: transfer legs decoded from ERC20 Transfer logs,
// swap-aware input/output selection, gas-fee economics and historical USD
// valuations.
package txdetails

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
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

const nativeDecimals = 18

// MetadataResolver supplies token metadata for decoded transfer legs.
// Satisfied by tokens.Resolver.
type MetadataResolver interface {
	Resolve(ctx context.Context, chainID uint64, addr common.Address) types.TokenMetadata
}

// Pricer supplies historical USD valuations. Satisfied by prices.Resolver.
// A nil Pricer disables USD enrichment entirely.
type Pricer interface {
	ValueAt(ctx context.Context, symbol string, amount decimal.Decimal, at time.Time) (*types.PriceQuote, *decimal.Decimal, error)
}

// Extractor resolves a hash into aggregated transaction details.
type Extractor struct {
	reg    *networks.Registry
	loc    *networks.Locator
	tokens MetadataResolver
	pricer Pricer
	log    logger.Logger
	rec    metrics.Recorder
}

// NewExtractor wires the extractor. pricer may be nil to skip USD fields.
func NewExtractor(reg *networks.Registry, loc *networks.Locator, tokens MetadataResolver, pricer Pricer, log logger.Logger, rec metrics.Recorder) *Extractor {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Extractor{reg: reg, loc: loc, tokens: tokens, pricer: pricer, log: log, rec: rec}
}

// Resolve fetches, decodes and prices the transaction behind hash. The
// chainIDHint, when non-empty, skips the cross-network search; it accepts
// decimal and 0x-hex chain ids. RPC failures surface as ErrTxNotFound;
// pricing failures only leave the USD fields unset.
func (e *Extractor) Resolve(ctx context.Context, hash common.Hash, chainIDHint string) (*types.UniversalTransactionDetails, error) {
	start := time.Now()
	defer func() {
		e.rec.ObserveLatency("resolve_details", time.Since(start), map[string]string{"component": "txdetails"})
	}()

	desc, err := e.resolveNetwork(ctx, hash, chainIDHint)
	if err != nil {
		return nil, err
	}

	client, err := e.reg.Client(desc.ChainID)
	if err != nil {
		return nil, types.NewCoreError(types.ErrCodeNotFound, "RPC client unavailable", err)
	}

	tx, receipt, err := e.fetchTxAndReceipt(ctx, client, hash)
	if err != nil {
		e.log.Warn("transaction fetch failed", map[string]any{
			"hash":    hash.Hex(),
			"network": desc.Name,
			"error":   err.Error(),
		})
		return nil, types.NewCoreError(types.ErrCodeNotFound, "transaction or receipt unavailable", err)
	}

	block, err := client.BlockByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, types.NewCoreError(types.ErrCodeNotFound, "block unavailable", err)
	}
	blockTime := time.Unix(int64(block.Time()), 0).UTC()

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(desc.ChainID)), tx)
	if err != nil {
		return nil, types.NewCoreError(types.ErrCodeUpstreamPermanent, "cannot recover transaction sender", err)
	}

	legs := e.decodeTransferLegs(ctx, desc, receipt)
	input, output := selectLegs(legs, sender, tx, desc.NativeSymbol)

	details := &types.UniversalTransactionDetails{
		Hash:        hash,
		ChainID:     desc.ChainID,
		Network:     desc.Name,
		ExplorerURL: desc.ExplorerTxURL(hash),
		Sender:      sender,
		Receiver:    receiverOf(tx),
		TokenFrom:   input.Symbol,
		AmountFrom:  input.Amount,
		TokenTo:     output.Symbol,
		AmountTo:    output.Amount,
		FeeNative:   feeNative(receipt),
		Status:      statusOf(receipt),
		Timestamp:   blockTime,
	}

	e.attachUSDValues(ctx, details, desc, input, output, blockTime)

	return details, nil
}

// resolveNetwork honors the hint when present, otherwise fans out.
func (e *Extractor) resolveNetwork(ctx context.Context, hash common.Hash, hint string) (*types.NetworkDescriptor, error) {
	if hint != "" {
		desc, ok := e.reg.Get(hint)
		if !ok {
			return nil, types.NewCoreError(types.ErrCodeInvalidInput,
				fmt.Sprintf("unknown chain id hint %q", hint), nil)
		}
		return &desc, nil
	}
	desc, err := e.loc.Locate(ctx, hash)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, types.ErrTxNotFound
	}
	return desc, nil
}

// fetchTxAndReceipt issues both lookups concurrently.
func (e *Extractor) fetchTxAndReceipt(ctx context.Context, client networks.Client, hash common.Hash) (*ethtypes.Transaction, *ethtypes.Receipt, error) {
	var (
		wg      sync.WaitGroup
		tx      *ethtypes.Transaction
		receipt *ethtypes.Receipt
		txErr   error
		rcErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tx, _, txErr = client.TransactionByHash(ctx, hash)
	}()
	go func() {
		defer wg.Done()
		receipt, rcErr = client.TransactionReceipt(ctx, hash)
	}()
	wg.Wait()

	if txErr != nil {
		return nil, nil, txErr
	}
	if rcErr != nil {
		return nil, nil, rcErr
	}
	if tx == nil || receipt == nil || receipt.BlockNumber == nil {
		return nil, nil, fmt.Errorf("incomplete transaction data for %s", hash.Hex())
	}
	return tx, receipt, nil
}

// decodeTransferLegs builds one leg per decoded ERC20 Transfer log,
// preserving log order. Logs with a topic layout other than the 3-topic
// ERC20 shape (ERC721 uses 4) are skipped, as are logs without a 32-byte
// value word.
func (e *Extractor) decodeTransferLegs(ctx context.Context, desc *types.NetworkDescriptor, receipt *ethtypes.Receipt) []types.TransferLeg {
	var legs []types.TransferLeg
	for _, lg := range receipt.Logs {
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		token := lg.Address
		meta := e.tokens.Resolve(ctx, desc.ChainID, token)
		raw := new(big.Int).SetBytes(lg.Data[:32])

		legs = append(legs, types.TransferLeg{
			From:     common.BytesToAddress(lg.Topics[1].Bytes()),
			To:       common.BytesToAddress(lg.Topics[2].Bytes()),
			Token:    &token,
			RawValue: raw,
			Decimals: meta.Decimals,
			Symbol:   meta.Symbol,
			Amount:   decimal.NewFromBigInt(raw, -int32(meta.Decimals)),
		})
	}
	return legs
}

// selectLegs applies the swap-aware selection rules: the input leg is the
// first transfer sent by the sender (else the tx's native value), the
// output leg is the last transfer received by the sender (else it mirrors
// the input, the plain-transfer case).
func selectLegs(legs []types.TransferLeg, sender common.Address, tx *ethtypes.Transaction, nativeSymbol string) (input, output types.TransferLeg) {
	var inputSet bool
	for _, leg := range legs {
		if leg.From == sender {
			input = leg
			inputSet = true
			break
		}
	}
	if !inputSet {
		input = nativeLeg(sender, tx, nativeSymbol)
	}

	output = input
	for i := len(legs) - 1; i >= 0; i-- {
		if legs[i].To == sender {
			output = legs[i]
			break
		}
	}
	return input, output
}

// nativeLeg represents the tx's native value movement. A zero value still
// yields a leg (the raw tx.value fallback for contract-interaction calls).
func nativeLeg(sender common.Address, tx *ethtypes.Transaction, nativeSymbol string) types.TransferLeg {
	value := tx.Value()
	if value == nil {
		value = big.NewInt(0)
	}
	return types.TransferLeg{
		From:     sender,
		To:       receiverOf(tx),
		Token:    nil,
		RawValue: value,
		Decimals: nativeDecimals,
		Symbol:   nativeSymbol,
		Amount:   decimal.NewFromBigInt(value, -nativeDecimals),
	}
}

// attachUSDValues prices the fee and both legs at the block timestamp.
// Every pricing failure is non-fatal: the field is simply left nil. When
// input and output move the same token, the output value is scaled from
// the input value instead of issuing a second price query.
func (e *Extractor) attachUSDValues(ctx context.Context, details *types.UniversalTransactionDetails, desc *types.NetworkDescriptor, input, output types.TransferLeg, at time.Time) {
	if e.pricer == nil {
		return
	}

	if _, feeUSD, err := e.pricer.ValueAt(ctx, desc.NativeSymbol, details.FeeNative, at); err == nil {
		details.FeeUSD = feeUSD
	} else {
		e.log.Debug("fee pricing unavailable", map[string]any{
			"hash":  details.Hash.Hex(),
			"error": err.Error(),
		})
	}

	_, usdFrom, err := e.pricer.ValueAt(ctx, input.Symbol, input.Amount, at)
	if err != nil {
		e.log.Debug("input leg pricing unavailable", map[string]any{
			"hash":   details.Hash.Hex(),
			"symbol": input.Symbol,
			"error":  err.Error(),
		})
		// Without an input value there is nothing to scale from; price
		// the output leg independently.
		if _, usdTo, toErr := e.pricer.ValueAt(ctx, output.Symbol, output.Amount, at); toErr == nil {
			details.USDValueTo = usdTo
		}
		return
	}
	details.USDValueFrom = usdFrom

	if input.SameToken(output) {
		if input.Amount.IsZero() {
			details.USDValueTo = usdFrom
			return
		}
		scaled := usdFrom.Mul(output.Amount).Div(input.Amount)
		details.USDValueTo = &scaled
		return
	}

	if _, usdTo, err := e.pricer.ValueAt(ctx, output.Symbol, output.Amount, at); err == nil {
		details.USDValueTo = usdTo
	} else {
		e.log.Debug("output leg pricing unavailable", map[string]any{
			"hash":   details.Hash.Hex(),
			"symbol": output.Symbol,
			"error":  err.Error(),
		})
	}
}

func feeNative(receipt *ethtypes.Receipt) decimal.Decimal {
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = big.NewInt(0)
	}
	feeWei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
	return decimal.NewFromBigInt(feeWei, -nativeDecimals)
}

func statusOf(receipt *ethtypes.Receipt) types.TxStatus {
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return types.TxStatusSuccess
	}
	return types.TxStatusFailed
}

func receiverOf(tx *ethtypes.Transaction) common.Address {
	if to := tx.To(); to != nil {
		return *to
	}
	return common.Address{}
}

// ChainIDHintFromUint formats a chain id as the decimal hint string.
func ChainIDHintFromUint(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
