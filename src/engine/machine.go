package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionengine/src/model"
	"positionengine/src/risk"
)

// Machine owns one Position and advances it through its lifecycle. All
// mutation of the Position goes through here; transitions are synchronous and
// in-memory, committed optimistically before the gateway command they produce
// is executed (the monitoring loop reconciles execution failures).
//
// Transitions and snapshots are serialized by an internal mutex: the
// monitoring loop and API callers (force close) may drive the same machine
// from different goroutines, and the terminal-state guards then guarantee at
// most one close and one TradeOutcome.
type Machine struct {
	mu  sync.Mutex
	pos *model.Position
	log *logger.Entry

	outcomeEmitted bool
}

func NewMachine(pos *model.Position, log *logger.Entry) *Machine {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Machine{
		pos: pos,
		log: log.WithFields(map[string]interface{}{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
		}),
	}
}

// Position returns the live entity without copying or locking. Only safe when
// a single goroutine drives the machine; concurrent callers use Snapshot.
func (m *Machine) Position() *model.Position {
	return m.pos
}

// Snapshot returns a value copy safe to hand to concurrent readers.
func (m *Machine) Snapshot() model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := *m.pos
	snap.Targets = make([]model.Target, len(m.pos.Targets))
	copy(snap.Targets, m.pos.Targets)
	return snap
}

// SetEntryOrderID records the gateway's client order id for the entry order.
func (m *Machine) SetEntryOrderID(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos.EntryOrderID = orderID
}

// OnEntryFill applies the gateway's confirmation for the entry order.
// PENDING_ENTRY -> OPEN on a fill; a partial fill downsizes the quantity to
// the filled amount; a rejected or empty fill closes the position with reason
// ENTRY_FAILED. Duplicate reports on a non-pending position are no-ops.
func (m *Machine) OnEntryFill(fill Fill, now time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos.State != model.PositionStatePendingEntry {
		return Result{}
	}
	if fill.OrderID != "" && m.pos.EntryOrderID != "" && fill.OrderID != m.pos.EntryOrderID {
		m.log.WithFields(map[string]interface{}{
			"order_id": fill.OrderID,
			"expected": m.pos.EntryOrderID,
		}).Warn("fill report for unknown order, discarding")
		return Result{}
	}

	switch fill.Status {
	case FillPending:
		return Result{}

	case FillRejected:
		m.log.WithField("order_id", fill.OrderID).Warn("entry order rejected")
		return m.close(decimal.Zero, model.ExitReasonEntryFailed, now, false)

	case FillFilled:
		if !fill.Quantity.IsPositive() {
			m.log.WithField("order_id", fill.OrderID).Warn("entry fill with zero quantity")
			return m.close(decimal.Zero, model.ExitReasonEntryFailed, now, false)
		}
		if fill.Price.IsPositive() {
			m.pos.EntryPrice = fill.Price
		}
		if fill.Quantity.GreaterThan(m.pos.Quantity) {
			m.log.WithFields(map[string]interface{}{
				"requested": m.pos.Quantity,
				"filled":    fill.Quantity,
			}).Warn("fill exceeds requested quantity, keeping requested size")
		}
		if fill.Quantity.LessThan(m.pos.Quantity) {
			m.log.WithFields(map[string]interface{}{
				"requested": m.pos.Quantity,
				"filled":    fill.Quantity,
			}).Warn("partial entry fill, downsizing position")
			m.pos.Quantity = fill.Quantity
			m.pos.InitialQuantity = fill.Quantity
		}
		m.pos.State = model.PositionStateOpen
		m.pos.UpdatedAt = now
		m.log.WithFields(map[string]interface{}{
			"entry_price": m.pos.EntryPrice,
			"quantity":    m.pos.Quantity,
		}).Info("position opened")
		return Result{Opened: true}
	}

	return Result{}
}

// OnTick evaluates a price tick and applies the resulting decision.
func (m *Machine) OnTick(price decimal.Decimal, now time.Time, cfg risk.Snapshot) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pos.IsOpen() {
		return Result{}
	}

	d := EvaluateTick(m.pos, price, now, cfg)
	if d.Hold() {
		return Result{}
	}

	if d.StopMove != nil {
		m.applyStopMove(*d.StopMove, now)
	}

	if d.CloseAll {
		return m.close(price, d.Reason, now, true)
	}

	if len(d.TargetHits) > 0 {
		return m.fillTargets(d.TargetHits, price, now)
	}

	m.pos.UpdatedAt = now
	return Result{}
}

// ForceClose closes the remaining quantity with reason MANUAL. Pending
// positions are cancelled without a closing order (there is nothing to flatten
// until the entry fills).
func (m *Machine) ForceClose(price decimal.Decimal, now time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.pos.State {
	case model.PositionStateClosed:
		return Result{}
	case model.PositionStatePendingEntry:
		return m.close(price, model.ExitReasonManual, now, false)
	default:
		return m.close(price, model.ExitReasonManual, now, true)
	}
}

func (m *Machine) applyStopMove(mv StopMove, now time.Time) {
	m.log.WithFields(map[string]interface{}{
		"old_stop": m.pos.StopPrice,
		"new_stop": mv.Price,
		"kind":     mv.Kind,
	}).Info("stop moved")

	m.pos.StopPrice = mv.Price
	m.pos.StopKind = mv.Kind
	if mv.Kind == model.StopKindTrailing && !m.pos.TrailActive {
		m.pos.TrailActive = true
		m.pos.TrailDistance = mv.Distance
	}
	m.pos.UpdatedAt = now
}

func (m *Machine) fillTargets(hits []int, price decimal.Decimal, now time.Time) Result {
	var res Result

	for _, idx := range hits {
		if idx != m.pos.NextTarget || idx >= len(m.pos.Targets) {
			m.log.WithField("target", idx).Warn("target hit out of sequence, ignoring")
			continue
		}
		tgt := &m.pos.Targets[idx]
		qty := m.pos.Quantity.Mul(tgt.Fraction)
		if qty.GreaterThan(m.pos.Quantity) {
			qty = m.pos.Quantity
		}

		tgt.Filled = true
		tgt.FillPrice = price
		filledAt := now
		tgt.FilledAt = &filledAt

		m.pos.RealizedPnl = m.pos.RealizedPnl.Add(realizedOn(m.pos, price, qty))
		m.pos.Quantity = m.pos.Quantity.Sub(qty)
		m.pos.NextTarget = idx + 1

		res.Commands = append(res.Commands, CloseCommand{
			PositionID: m.pos.ID,
			Symbol:     m.pos.Symbol,
			Side:       m.pos.Direction.Opposite(),
			Quantity:   qty,
			Reason:     model.ExitReasonAllTargets,
		})
		res.Partials = append(res.Partials, PartialClose{
			Fraction: tgt.Fraction,
			Price:    price,
			Reason:   model.ExitReasonAllTargets,
		})

		m.log.WithFields(map[string]interface{}{
			"target":   idx + 1,
			"price":    price,
			"quantity": qty,
		}).Info("take-profit target filled")
	}

	if m.pos.NextTarget >= len(m.pos.Targets) || !m.pos.Quantity.IsPositive() {
		m.pos.Quantity = decimal.Zero
		m.finish(model.ExitReasonAllTargets, now)
		res.Outcome = m.takeOutcome(price, now)
	} else {
		m.pos.State = model.PositionStatePartiallyClosed
	}

	m.pos.UpdatedAt = now
	return res
}

// close flattens whatever quantity remains and transitions to CLOSED. Closing
// an already-closed position is a no-op and never emits a second outcome.
func (m *Machine) close(price decimal.Decimal, reason string, now time.Time, issueCommand bool) Result {
	if m.pos.State == model.PositionStateClosed {
		return Result{}
	}

	var res Result
	remaining := m.pos.Quantity

	if issueCommand && remaining.IsPositive() {
		m.pos.RealizedPnl = m.pos.RealizedPnl.Add(realizedOn(m.pos, price, remaining))
		res.Commands = append(res.Commands, CloseCommand{
			PositionID: m.pos.ID,
			Symbol:     m.pos.Symbol,
			Side:       m.pos.Direction.Opposite(),
			Quantity:   remaining,
			Reason:     reason,
		})
	}
	m.pos.Quantity = decimal.Zero

	m.finish(reason, now)
	res.Outcome = m.takeOutcome(price, now)

	m.log.WithFields(map[string]interface{}{
		"reason":       reason,
		"exit_price":   price,
		"realized_pnl": m.pos.RealizedPnl,
	}).Info("position closed")

	return res
}

func (m *Machine) finish(reason string, now time.Time) {
	closedAt := now
	m.pos.State = model.PositionStateClosed
	m.pos.ExitReason = reason
	m.pos.ClosedAt = &closedAt
	m.pos.UpdatedAt = now
}

// takeOutcome builds the terminal record exactly once per position.
func (m *Machine) takeOutcome(exitPrice decimal.Decimal, now time.Time) *model.TradeOutcome {
	if m.outcomeEmitted {
		return nil
	}
	m.outcomeEmitted = true

	pnlPct := decimal.Zero
	notional := m.pos.InitialQuantity.Mul(m.pos.EntryPrice)
	if notional.IsPositive() {
		pnlPct = m.pos.RealizedPnl.Div(notional).Mul(hundred)
		if m.pos.Leverage.IsPositive() {
			pnlPct = pnlPct.Mul(m.pos.Leverage)
		}
	}

	return &model.TradeOutcome{
		PositionID:      m.pos.ID,
		Symbol:          m.pos.Symbol,
		Direction:       m.pos.Direction,
		FinalState:      m.pos.State,
		ExitReason:      m.pos.ExitReason,
		EntryPrice:      m.pos.EntryPrice,
		ExitPrice:       exitPrice,
		RealizedPnl:     m.pos.RealizedPnl,
		PnlPercent:      pnlPct,
		DurationSeconds: int64(now.Sub(m.pos.CreatedAt) / time.Second),
		OpenedAt:        m.pos.CreatedAt,
		ClosedAt:        now,
	}
}
