package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position lifecycle states.
const (
	PositionStatePendingEntry    = "PENDING_ENTRY"
	PositionStateOpen            = "OPEN"
	PositionStatePartiallyClosed = "PARTIALLY_CLOSED"
	PositionStateClosed          = "CLOSED"
)

// Stop kinds track where the current stop price came from, so a stop hit can
// be reported under the right exit reason.
const (
	StopKindInitial   = "INITIAL"
	StopKindBreakeven = "BREAKEVEN"
	StopKindTrailing  = "TRAILING"
)

// Exit reasons recorded on the terminal TradeOutcome.
const (
	ExitReasonStopLoss      = "STOP_LOSS"
	ExitReasonBreakevenStop = "BREAKEVEN_STOP"
	ExitReasonTrailingStop  = "TRAILING_STOP"
	ExitReasonEmergencyStop = "EMERGENCY_STOP"
	ExitReasonTimeExit      = "TIME_EXIT"
	ExitReasonAllTargets    = "ALL_TARGETS"
	ExitReasonEntryFailed   = "ENTRY_FAILED"
	ExitReasonManual        = "MANUAL"
)

// Position is the engine's core mutable entity: one open or closing trade.
// The in-memory instance owned by its state machine is authoritative; the
// database row is a write-through mirror used for rehydration after restart.
type Position struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Symbol    string    `gorm:"size:50;not null;index" json:"symbol"`
	Direction Direction `gorm:"size:10;not null" json:"direction"`

	EntryPrice      decimal.Decimal `gorm:"type:double precision;not null" json:"entry_price"`
	Quantity        decimal.Decimal `gorm:"type:double precision;not null" json:"quantity"` // remaining quantity
	InitialQuantity decimal.Decimal `gorm:"type:double precision;not null" json:"initial_quantity"`
	Leverage        decimal.Decimal `gorm:"type:double precision;not null;default:1" json:"leverage"`
	RiskAmount      decimal.Decimal `gorm:"type:double precision;not null" json:"risk_amount"` // capital at risk, for portfolio admission

	StopPrice   decimal.Decimal `gorm:"type:double precision;not null" json:"stop_price"`
	InitialStop decimal.Decimal `gorm:"type:double precision;not null" json:"initial_stop"`
	StopKind    string          `gorm:"size:20;not null;default:INITIAL" json:"stop_kind"`

	TrailActive   bool            `gorm:"not null;default:false" json:"trail_active"`
	TrailDistance decimal.Decimal `gorm:"type:double precision" json:"trail_distance"` // fixed at activation

	Targets    []Target `gorm:"foreignKey:PositionID;constraint:OnDelete:CASCADE" json:"targets"`
	NextTarget int      `gorm:"not null;default:0" json:"next_target"`

	RealizedPnl decimal.Decimal `gorm:"type:double precision;not null;default:0" json:"realized_pnl"`

	State      string `gorm:"size:30;not null;index" json:"state"`
	ExitReason string `gorm:"size:30" json:"exit_reason,omitempty"`

	EntryOrderID string `gorm:"size:64;index" json:"entry_order_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func (Position) TableName() string {
	return "positions"
}

// IsOpen reports whether the position still has exposure to manage.
func (p *Position) IsOpen() bool {
	return p.State == PositionStateOpen || p.State == PositionStatePartiallyClosed
}

// IsTerminal reports whether the position reached its terminal state.
func (p *Position) IsTerminal() bool {
	return p.State == PositionStateClosed
}

// UnfilledTargets returns how many targets are still ahead of the position.
func (p *Position) UnfilledTargets() int {
	return len(p.Targets) - p.NextTarget
}

// UnrealizedPnl is derived from the given mark price over the remaining quantity.
func (p *Position) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	if p.Direction == DirectionLong {
		return price.Sub(p.EntryPrice).Mul(p.Quantity)
	}
	return p.EntryPrice.Sub(price).Mul(p.Quantity)
}

// Target is one partial take-profit level. Fraction is the share of the
// quantity remaining at fill time that this target exits; the final target
// always carries fraction 1 so the position fully closes on it.
type Target struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	PositionID string          `gorm:"size:36;not null;index" json:"position_id"`
	Sequence   int             `gorm:"not null" json:"sequence"`
	Price      decimal.Decimal `gorm:"type:double precision;not null" json:"price"`
	Fraction   decimal.Decimal `gorm:"type:double precision;not null" json:"fraction"`
	Filled     bool            `gorm:"not null;default:false" json:"filled"`
	FillPrice  decimal.Decimal `gorm:"type:double precision" json:"fill_price"`
	FilledAt   *time.Time      `json:"filled_at,omitempty"`
}

func (Target) TableName() string {
	return "position_targets"
}
