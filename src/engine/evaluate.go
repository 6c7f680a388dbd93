package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"positionengine/src/model"
	"positionengine/src/risk"
)

// EvaluateTick is the pure transition function: given a position, the latest
// mark price and the risk snapshot captured at tick start, it decides what the
// tick does. Checks run in fixed priority order — emergency stop, stop hit,
// time exit, target hits — first match wins. Stop relocation (breakeven,
// trailing) is evaluated independently and may accompany a tick that produced
// no exit. The position is not mutated here.
func EvaluateTick(p *model.Position, price decimal.Decimal, now time.Time, cfg risk.Snapshot) Decision {
	if !p.IsOpen() {
		return Decision{}
	}

	// a. Emergency stop: leveraged PnL% against account equity.
	pnlPct := PnlPercent(p.EntryPrice, price, p.Direction, p.Leverage)
	if pnlPct.LessThanOrEqual(cfg.EmergencyStop.Mul(hundred).Neg()) {
		return Decision{CloseAll: true, Reason: model.ExitReasonEmergencyStop}
	}

	// b. Stop hit, reported under the kind the stop had when it was placed.
	if stopCrossed(p, price) {
		return Decision{CloseAll: true, Reason: stopReason(p.StopKind)}
	}

	// c. Time exit.
	if now.Sub(p.CreatedAt) >= cfg.MaxTradeDuration {
		return Decision{CloseAll: true, Reason: model.ExitReasonTimeExit}
	}

	// d. Targets, consumed strictly in order. A gap tick that crosses several
	// levels fills every crossed target within this tick.
	var hits []int
	for i := p.NextTarget; i < len(p.Targets); i++ {
		if !targetCrossed(p.Direction, price, p.Targets[i].Price) {
			break
		}
		hits = append(hits, i)
	}

	// e. Stop relocation, based on the unleveraged price move so the new stop
	// is a real price level.
	move := FavorableMovePercent(p.EntryPrice, price, p.Direction)
	stopMove := evaluateStopMove(p, price, move, cfg)

	return Decision{TargetHits: hits, StopMove: stopMove}
}

func stopCrossed(p *model.Position, price decimal.Decimal) bool {
	if p.Direction == model.DirectionLong {
		return price.LessThanOrEqual(p.StopPrice)
	}
	return price.GreaterThanOrEqual(p.StopPrice)
}

func targetCrossed(dir model.Direction, price, target decimal.Decimal) bool {
	if dir == model.DirectionLong {
		return price.GreaterThanOrEqual(target)
	}
	return price.LessThanOrEqual(target)
}

func stopReason(kind string) string {
	switch kind {
	case model.StopKindBreakeven:
		return model.ExitReasonBreakevenStop
	case model.StopKindTrailing:
		return model.ExitReasonTrailingStop
	default:
		return model.ExitReasonStopLoss
	}
}

// evaluateStopMove applies the trailing/breakeven policy. The trail distance
// is fixed at activation: the configured percentage of the activation price
// when one is set, the gap between activation price and the original stop
// otherwise. An active trail is recomputed every tick against that fixed
// distance and only ever tightens.
func evaluateStopMove(p *model.Position, price, movePct decimal.Decimal, cfg risk.Snapshot) *StopMove {
	if p.TrailActive {
		candidate := trailCandidate(p.Direction, price, p.TrailDistance)
		if favorableMove(p.Direction, candidate, p.StopPrice) {
			return &StopMove{Price: candidate, Kind: model.StopKindTrailing}
		}
		return nil
	}

	if movePct.GreaterThanOrEqual(cfg.TrailingActivation.Mul(hundred)) {
		distance := cfg.TrailingDistance.Mul(price)
		if !distance.IsPositive() {
			distance = price.Sub(p.InitialStop).Abs()
		}
		candidate := trailCandidate(p.Direction, price, distance)
		if favorableMove(p.Direction, candidate, p.StopPrice) {
			return &StopMove{Price: candidate, Kind: model.StopKindTrailing, Distance: distance}
		}
		return nil
	}

	// Breakeven is a one-time move to the entry price; once the stop left its
	// initial level it never goes back.
	if p.StopKind == model.StopKindInitial && movePct.GreaterThanOrEqual(cfg.BreakevenThreshold.Mul(hundred)) {
		if favorableMove(p.Direction, p.EntryPrice, p.StopPrice) {
			return &StopMove{Price: p.EntryPrice, Kind: model.StopKindBreakeven}
		}
	}

	return nil
}

func trailCandidate(dir model.Direction, price, distance decimal.Decimal) decimal.Decimal {
	if dir == model.DirectionLong {
		return price.Sub(distance)
	}
	return price.Add(distance)
}

// favorableMove reports whether candidate tightens the stop relative to current.
func favorableMove(dir model.Direction, candidate, current decimal.Decimal) bool {
	if dir == model.DirectionLong {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}
