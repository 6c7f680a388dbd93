package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

var one = decimal.NewFromInt(1)

// BuildTargets converts signal target prices into the position's target plan.
// Each target's Fraction is the share of the quantity REMAINING at fill time
// that it exits. The default plan exits an equal share of the original
// quantity per target, which in remaining terms is 1/N, 1/(N-1), ... and
// finally 1, so the last target always flattens the position.
//
// With a configured split (shares of original quantity, e.g. 0.5,0.3,0.2) the
// shares are converted to remaining-quantity fractions the same way; the last
// target again closes everything left.
func BuildTargets(sig model.Signal, cfg Snapshot) []model.Target {
	n := len(sig.Targets)
	targets := make([]model.Target, 0, n)

	shares := cfg.TargetSplit
	if len(shares) != n {
		// Even split of the original quantity.
		shares = make([]decimal.Decimal, n)
		each := one.Div(decimal.NewFromInt(int64(n)))
		for i := range shares {
			shares[i] = each
		}
	}

	remaining := one
	for i := 0; i < n; i++ {
		fraction := one
		if i < n-1 && remaining.IsPositive() {
			fraction = shares[i].Div(remaining)
			if fraction.GreaterThan(one) {
				fraction = one
			}
		}
		targets = append(targets, model.Target{
			Sequence: i,
			Price:    sig.Targets[i],
			Fraction: fraction,
		})
		remaining = remaining.Sub(shares[i])
	}

	return targets
}

// NewPosition assembles a PENDING_ENTRY position from an accepted signal and
// its sizing. The identity is assigned by the caller.
func NewPosition(id string, sig model.Signal, sizing Sizing, cfg Snapshot, now time.Time) *model.Position {
	return &model.Position{
		ID:              id,
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      sig.EntryPrice(),
		Quantity:        sizing.Quantity,
		InitialQuantity: sizing.Quantity,
		Leverage:        sizing.Leverage,
		RiskAmount:      sizing.RiskAmount,
		StopPrice:       sig.StopLoss,
		InitialStop:     sig.StopLoss,
		StopKind:        model.StopKindInitial,
		Targets:         BuildTargets(sig, cfg),
		State:           model.PositionStatePendingEntry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
