// Package chain settles the DEX leg through the PancakeSwap V2 router.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pancake-blofin-arb/internal/arbitrage"
	"pancake-blofin-arb/internal/config"
)

const nativeDecimals = 18

// withdrawalTopic is the wrapped-native Withdrawal(address,uint256) event,
// emitted when the router unwraps the native asset to the recipient.
var withdrawalTopic = crypto.Keccak256Hash([]byte("Withdrawal(address,uint256)"))

// Backend is the part of an RPC client the executor needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return ec, nil
}

// SwapExecutor signs and submits router swaps and waits for their receipts.
type SwapExecutor struct {
	backend       Backend
	abi           abi.ABI
	router        common.Address
	wrapped       common.Address
	quoteToken    common.Address
	quoteDecimals int32
	gasLimit      uint64
	deadline      time.Duration
	pollInterval  time.Duration
	key           *ecdsa.PrivateKey
	from          common.Address
	logger        *zap.Logger
	now           func() time.Time

	chainMu sync.Mutex
	chainID *big.Int
}

var _ arbitrage.SwapExecutor = (*SwapExecutor)(nil)

// NewSwapExecutor builds an executor from the chain configuration.
func NewSwapExecutor(backend Backend, routerABI abi.ABI, cfg *config.Chain, logger *zap.Logger) (*SwapExecutor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	for name, addr := range map[string]string{
		"router":         cfg.Router,
		"wrapped_native": cfg.WrappedNative,
		"quote_token":    cfg.QuoteToken,
	} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain.%s: invalid address %q", name, addr)
		}
	}
	if cfg.Deadline <= 0 {
		return nil, errors.New("chain.deadline must be positive")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	gas := cfg.GasLimit
	if gas == 0 {
		gas = 300_000
	}

	return &SwapExecutor{
		backend:       backend,
		abi:           routerABI,
		router:        common.HexToAddress(cfg.Router),
		wrapped:       common.HexToAddress(cfg.WrappedNative),
		quoteToken:    common.HexToAddress(cfg.QuoteToken),
		quoteDecimals: cfg.QuoteDecimals,
		gasLimit:      gas,
		deadline:      cfg.Deadline,
		pollInterval:  poll,
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		logger:        logger.Named("pancakeswap"),
		now:           time.Now,
	}, nil
}

// Address returns the wallet address swaps are sent from and paid to.
func (e *SwapExecutor) Address() common.Address {
	return e.from
}

// Swap settles leg on the router. The transaction carries a deadline of
// now+deadline and the call waits for its receipt until the same instant.
// Selling the base asset spends native value through swapExactETHForTokens;
// buying it spends the quote token through swapExactTokensForETH, which
// requires a prior router allowance on the quote token.
func (e *SwapExecutor) Swap(ctx context.Context, leg arbitrage.Leg) arbitrage.LegOutcome {
	started := e.now()
	expiry := started.Add(e.deadline)

	ctx, cancel := context.WithDeadline(ctx, expiry)
	defer cancel()

	l := e.logger.With(
		zap.String("side", string(leg.Side)),
		zap.String("quantity", leg.Quantity.String()),
		zap.String("min_out", leg.MinOut.String()),
	)

	data, value, err := e.pack(leg, big.NewInt(expiry.Unix()))
	if err != nil {
		l.Error("[PancakeSwap] could not build swap", zap.Error(err))
		return arbitrage.Failed(leg, "", &arbitrage.ChainError{Op: "pack", Err: err}, started, e.now())
	}

	tx, err := e.submit(ctx, data, value)
	if err != nil {
		l.Error("[PancakeSwap] could not submit swap", zap.Error(err))
		return arbitrage.Failed(leg, "", &arbitrage.ChainError{Op: "submit", Err: err}, started, e.now())
	}
	hash := tx.Hash().Hex()
	l.Info("[PancakeSwap] swap submitted", zap.String("tx", hash))

	receipt, err := e.waitMined(ctx, tx.Hash())
	if err != nil {
		l.Error("[PancakeSwap] swap not confirmed", zap.String("tx", hash), zap.Error(err))
		return arbitrage.Failed(leg, hash, &arbitrage.ChainError{Op: "confirm", TxHash: hash, Err: err}, started, e.now())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		l.Error("[PancakeSwap] swap reverted", zap.String("tx", hash), zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return arbitrage.Failed(leg, hash, &arbitrage.ChainError{Op: "confirm", TxHash: hash, Err: arbitrage.ErrSwapReverted}, started, e.now())
	}

	filled := e.filledQuantity(leg, receipt)
	l.Info("[PancakeSwap] swap confirmed",
		zap.String("tx", hash),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("filled", filled.String()),
	)
	return arbitrage.Filled(leg, filled, hash, started, e.now())
}

// pack encodes the router call for leg and returns the native value to send.
func (e *SwapExecutor) pack(leg arbitrage.Leg, deadline *big.Int) ([]byte, *big.Int, error) {
	switch leg.Side {
	case arbitrage.SideSell:
		value := toUnits(leg.Quantity, nativeDecimals)
		minOut := toUnits(leg.MinOut, e.quoteDecimals)
		path := []common.Address{e.wrapped, e.quoteToken}
		data, err := e.abi.Pack(methodSellNative, minOut, path, e.from, deadline)
		return data, value, err
	case arbitrage.SideBuy:
		amountIn := toUnits(leg.QuoteAmount, e.quoteDecimals)
		minOut := toUnits(leg.MinOut, nativeDecimals)
		path := []common.Address{e.quoteToken, e.wrapped}
		data, err := e.abi.Pack(methodBuyNative, amountIn, minOut, path, e.from, deadline)
		return data, big.NewInt(0), err
	default:
		return nil, nil, fmt.Errorf("unknown side %q", leg.Side)
	}
}

// loadChainID caches the chain id once it has been read. Failed lookups are
// not cached, so the next swap asks again.
func (e *SwapExecutor) loadChainID(ctx context.Context) (*big.Int, error) {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	if e.chainID != nil {
		return e.chainID, nil
	}
	id, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	e.chainID = id
	return id, nil
}

func (e *SwapExecutor) submit(ctx context.Context, data []byte, value *big.Int) (*types.Transaction, error) {
	chainID, err := e.loadChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      e.gasLimit,
		To:       &e.router,
		Value:    value,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signed, nil
}

// waitMined polls for the receipt until ctx is done.
func (e *SwapExecutor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.Debug("Receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, arbitrage.ErrSwapDeadline
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// filledQuantity returns the base amount settled by the swap. For a buy it is
// read from the wrapped-native Withdrawal event; otherwise the exact input.
func (e *SwapExecutor) filledQuantity(leg arbitrage.Leg, receipt *types.Receipt) decimal.Decimal {
	if leg.Side != arbitrage.SideBuy {
		return leg.Quantity
	}
	total := new(big.Int)
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != e.wrapped || len(lg.Topics) == 0 || lg.Topics[0] != withdrawalTopic {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	if total.Sign() == 0 {
		return leg.Quantity
	}
	return fromUnits(total, nativeDecimals)
}

func toUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}

func fromUnits(x *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(x, -decimals)
}
