package engine

import (
	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

var hundred = decimal.NewFromInt(100)

// FavorableMovePercent is the unleveraged price move in the trade's favor, in
// percent of the entry price. Negative when the price moved adversely. Stops
// and thresholds that correspond to real price levels (breakeven, trailing)
// are framed in this unit so the resulting stop prices stay on the chart.
func FavorableMovePercent(entry, price decimal.Decimal, dir model.Direction) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	move := price.Sub(entry)
	if dir == model.DirectionShort {
		move = move.Neg()
	}
	return move.Div(entry).Mul(hundred)
}

// PnlPercent is the leveraged PnL in percent of the margin put up for the
// position. The emergency stop is framed in this unit because it protects
// account equity, not a price level.
func PnlPercent(entry, price decimal.Decimal, dir model.Direction, leverage decimal.Decimal) decimal.Decimal {
	pct := FavorableMovePercent(entry, price, dir)
	if leverage.IsPositive() {
		pct = pct.Mul(leverage)
	}
	return pct
}

// realizedOn returns the PnL realized by closing qty at price.
func realizedOn(p *model.Position, price, qty decimal.Decimal) decimal.Decimal {
	if p.Direction == model.DirectionLong {
		return price.Sub(p.EntryPrice).Mul(qty)
	}
	return p.EntryPrice.Sub(price).Mul(qty)
}
