package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOutcome is the terminal record of a position, created exactly once when
// the position transitions to CLOSED and appended to the history table.
type TradeOutcome struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PositionID string    `gorm:"size:36;not null;index" json:"position_id"`
	Symbol     string    `gorm:"size:50;not null;index" json:"symbol"`
	Direction  Direction `gorm:"size:10;not null" json:"direction"`

	FinalState string `gorm:"size:30;not null" json:"final_state"`
	ExitReason string `gorm:"size:30;not null" json:"exit_reason"`

	EntryPrice  decimal.Decimal `gorm:"type:double precision;not null" json:"entry_price"`
	ExitPrice   decimal.Decimal `gorm:"type:double precision;not null" json:"exit_price"` // price of the final closing fill
	RealizedPnl decimal.Decimal `gorm:"type:double precision;not null" json:"realized_pnl"`
	PnlPercent  decimal.Decimal `gorm:"type:double precision;not null" json:"pnl_percent"` // leveraged, on entry notional

	DurationSeconds int64     `gorm:"not null" json:"duration_seconds"`
	OpenedAt        time.Time `json:"opened_at"`
	ClosedAt        time.Time `json:"closed_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (TradeOutcome) TableName() string {
	return "trade_outcomes"
}

// Duration returns the trade duration as a time.Duration.
func (o TradeOutcome) Duration() time.Duration {
	return time.Duration(o.DurationSeconds) * time.Second
}
