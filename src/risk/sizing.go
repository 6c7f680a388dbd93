package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

// SizingError marks a signal as unusable for sizing: the caller reports it and
// never retries, no order is placed.
type SizingError struct {
	Reason string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing: %s", e.Reason)
}

// Sizing is the result of the pure position-sizing computation.
type Sizing struct {
	Quantity   decimal.Decimal
	Leverage   decimal.Decimal
	RiskAmount decimal.Decimal // equity put at risk if the stop fills
	Distance   decimal.Decimal // |entry-stop|/entry
}

// ComputeSize derives the position quantity from account equity and the
// signal's stop distance:
//
//	riskAmount = equity * riskPerTrade
//	distance   = |entry - stop| / entry
//	quantity   = riskAmount / (distance * entry)
//
// capped so the margin quantity*entry/leverage never exceeds equity, with
// leverage itself capped at the configured maximum. The quantity is floored to
// the exchange lot size.
func ComputeSize(sig model.Signal, cfg Snapshot, equity decimal.Decimal) (Sizing, error) {
	entry := sig.EntryPrice()
	if !entry.IsPositive() {
		return Sizing{}, &SizingError{Reason: fmt.Sprintf("entry price %s not positive", entry)}
	}
	if !equity.IsPositive() {
		return Sizing{}, &SizingError{Reason: fmt.Sprintf("account equity %s not positive", equity)}
	}

	var adverse decimal.Decimal
	if sig.Direction == model.DirectionLong {
		adverse = entry.Sub(sig.StopLoss)
	} else {
		adverse = sig.StopLoss.Sub(entry)
	}
	distance := adverse.Div(entry)
	if !distance.IsPositive() {
		return Sizing{}, &SizingError{Reason: fmt.Sprintf("stop %s on wrong side of entry %s", sig.StopLoss, entry)}
	}

	leverage := sig.EffectiveLeverage()
	if leverage.GreaterThan(cfg.MaxLeverage) {
		leverage = cfg.MaxLeverage
	}

	riskAmount := equity.Mul(cfg.RiskPerTrade)
	quantity := riskAmount.Div(distance.Mul(entry))

	// Margin cap: quantity*entry/leverage must fit in equity.
	maxQuantity := equity.Mul(leverage).Div(entry)
	if quantity.GreaterThan(maxQuantity) {
		quantity = maxQuantity
	}

	if cfg.MinLotSize.IsPositive() {
		quantity = quantity.Div(cfg.MinLotSize).Floor().Mul(cfg.MinLotSize)
	}
	if !quantity.IsPositive() {
		return Sizing{}, &SizingError{Reason: "quantity rounds to zero under minimum lot size"}
	}

	return Sizing{
		Quantity:   quantity,
		Leverage:   leverage,
		RiskAmount: quantity.Mul(adverse),
		Distance:   distance,
	}, nil
}
