// Package pnl centralizes the fee-aware profit/loss arithmetic used by the
// position manager: the realized-P&L estimate it puts in a full exit
// intent's metadata (recorded on close once the fill is confirmed) and
// the settlement P&L on market resolution.
package pnl

import "github.com/Himasai10/polymarket/pkg/types"

const (
	// TakerFeeRate is charged on both the entry and exit leg of a normal trade.
	TakerFeeRate = 0.0315
	// WinnerFeeRate is charged only on the winning side of a resolution
	// payout, and only when the position closed at a gross profit.
	WinnerFeeRate = 0.02
)

// Gross returns the sign-adjusted gross P&L for closing a position of
// side/size at exitPrice, before fees.
func Gross(side types.Side, entryPrice, exitPrice, size float64) float64 {
	if side == types.SELL {
		return (entryPrice - exitPrice) * size
	}
	return (exitPrice - entryPrice) * size
}

// EstimateFees is the two-taker-leg estimate used for exit-intent metadata,
// before the fill price is known.
func EstimateFees(entryPrice, exitPrice, size float64) float64 {
	return size*entryPrice*TakerFeeRate + size*exitPrice*TakerFeeRate
}

// Realized is the normal-exit realized P&L: gross minus the two-leg taker fee.
func Realized(side types.Side, entryPrice, exitPrice, size float64) float64 {
	return Gross(side, entryPrice, exitPrice, size) - EstimateFees(entryPrice, exitPrice, size)
}

// RealizedOnResolution settles a position at a binary resolution price
// (1.0 or 0.0). The winner fee applies only when the gross P&L is positive.
func RealizedOnResolution(side types.Side, entryPrice, resolutionPrice, size float64) float64 {
	gross := Gross(side, entryPrice, resolutionPrice, size)
	entryFee := size * entryPrice * TakerFeeRate
	var winnerFee float64
	if gross > 0 {
		winnerFee = resolutionPrice * size * WinnerFeeRate
	}
	return gross - entryFee - winnerFee
}

// PnLPct returns the signed percentage move relative to entry, side-adjusted
// so a favorable move is always positive.
func PnLPct(side types.Side, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	if side == types.SELL {
		return (entryPrice - currentPrice) / entryPrice * 100
	}
	return (currentPrice - entryPrice) / entryPrice * 100
}
