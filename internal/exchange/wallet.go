package exchange

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Himasai10/polymarket/internal/config"
)

// defaultUSDCAddress is USDC's contract address on Polygon, used when the
// config doesn't override it.
const defaultUSDCAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

// usdcDecimals is USDC's on-chain decimal precision.
const usdcDecimals = 6

// erc20BalanceOfSelector is the first four bytes of
// keccak256("balanceOf(address)").
var erc20BalanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}

// Wallet reads the funder address's on-chain USDC balance over a Polygon
// JSON-RPC endpoint, matching the reference implementation's web3.py
// balance check (CORE-03) without pulling in full ABI bindings for a
// single read-only call.
type Wallet struct {
	rpc           *ethclient.Client
	funderAddress common.Address
	usdcAddress   common.Address
}

// NewWallet dials the configured Polygon RPC endpoint.
func NewWallet(cfg config.Config) (*Wallet, error) {
	rpc, err := ethclient.Dial(cfg.API.PolygonRPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}
	usdc := cfg.API.USDCAddress
	if usdc == "" {
		usdc = defaultUSDCAddress
	}
	return &Wallet{
		rpc:           rpc,
		funderAddress: common.HexToAddress(cfg.Wallet.FunderAddress),
		usdcAddress:   common.HexToAddress(usdc),
	}, nil
}

// QuoteBalance returns the funder address's USDC balance, satisfying
// risk.WalletBalance and strategy.Wallet.
func (w *Wallet) QuoteBalance(ctx context.Context) (float64, error) {
	data := append(erc20BalanceOfSelector[:], common.LeftPadBytes(w.funderAddress.Bytes(), 32)...)
	result, err := w.rpc.CallContract(ctx, ethereum.CallMsg{
		To:   &w.usdcAddress,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("balanceOf call: %w", err)
	}
	raw := new(big.Int).SetBytes(result)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(usdcDecimals), nil))
	balance, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()
	return balance, nil
}

// maticDecimals is the native gas token's decimal precision (same as ETH).
const maticDecimals = 18

// GasBalance returns the funder address's native MATIC balance, used to
// warn operators before the wallet runs too low to pay gas.
func (w *Wallet) GasBalance(ctx context.Context) (float64, error) {
	raw, err := w.rpc.BalanceAt(ctx, w.funderAddress, nil)
	if err != nil {
		return 0, fmt.Errorf("gas balance call: %w", err)
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(maticDecimals), nil))
	balance, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), divisor).Float64()
	return balance, nil
}

// Close releases the underlying RPC connection.
func (w *Wallet) Close() {
	w.rpc.Close()
}
