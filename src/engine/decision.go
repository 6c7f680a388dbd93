package engine

import (
	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

// StopMove is a favorable relocation of the stop price decided during a tick.
// Distance is only set when the move activates trailing for the first time and
// records the trail distance fixed at activation.
type StopMove struct {
	Price    decimal.Decimal
	Kind     string
	Distance decimal.Decimal
}

// Decision is the outcome of evaluating one price tick against a position.
// Exits (CloseAll / TargetHits) are mutually exclusive and follow the fixed
// priority order; a StopMove may accompany a tick that produced no exit.
type Decision struct {
	CloseAll   bool
	Reason     string // exit reason when CloseAll is set
	TargetHits []int  // indices of targets crossed this tick, in sequence order
	StopMove   *StopMove
}

// Hold reports whether the decision changes nothing.
func (d Decision) Hold() bool {
	return !d.CloseAll && len(d.TargetHits) == 0 && d.StopMove == nil
}

// FillStatus mirrors the gateway's asynchronous report for a placed order.
type FillStatus string

const (
	FillPending  FillStatus = "pending"
	FillFilled   FillStatus = "filled"
	FillRejected FillStatus = "rejected"
)

// Fill is the engine-side view of an order confirmation.
type Fill struct {
	OrderID  string
	Status   FillStatus
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// CloseCommand instructs the gateway to close part or all of a position at
// market. The monitoring loop executes it and owns the retry bookkeeping.
type CloseCommand struct {
	PositionID string
	Symbol     string
	Side       model.Direction // side of the closing order
	Quantity   decimal.Decimal
	Reason     string
}

// PartialClose describes an intermediate exit for the ledger.
type PartialClose struct {
	Fraction decimal.Decimal // share of the quantity remaining before the fill
	Price    decimal.Decimal
	Reason   string
}

// Result aggregates everything one event application produced: gateway
// commands to execute, ledger notifications, and at most one TradeOutcome.
type Result struct {
	Commands []CloseCommand
	Opened   bool
	Partials []PartialClose
	Outcome  *model.TradeOutcome
}
