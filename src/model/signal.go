package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the closing direction for a position side.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

const MaxTargets = 4

// Signal is a structured trade instruction handed to the engine by the signal
// front end. It is assumed to be syntactically parsed already; Validate enforces
// the semantic invariants before the engine accepts it. Once accepted it is
// never mutated.
type Signal struct {
	Symbol     string            `json:"symbol"`
	Direction  Direction         `json:"direction"`
	Entry      decimal.Decimal   `json:"entry"`                // ignored when a range is set
	EntryLow   decimal.Decimal   `json:"entry_low,omitempty"`  // optional entry range
	EntryHigh  decimal.Decimal   `json:"entry_high,omitempty"` //
	Targets    []decimal.Decimal `json:"targets"`
	StopLoss   decimal.Decimal   `json:"stop_loss"`
	Leverage   decimal.Decimal   `json:"leverage,omitempty"`   // defaults to 1
	Confidence float64           `json:"confidence,omitempty"` // 0-100, informational
	ReceivedAt time.Time         `json:"received_at"`
}

// EntryPrice resolves the effective entry: the arithmetic mean of the range
// when one was given, the single entry price otherwise.
func (s Signal) EntryPrice() decimal.Decimal {
	if s.EntryLow.IsPositive() && s.EntryHigh.IsPositive() {
		return s.EntryLow.Add(s.EntryHigh).Div(decimal.NewFromInt(2))
	}
	return s.Entry
}

// EffectiveLeverage returns the requested leverage, defaulting to 1.
func (s Signal) EffectiveLeverage() decimal.Decimal {
	if s.Leverage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return s.Leverage
	}
	return decimal.NewFromInt(1)
}

// Validate checks the structural invariants: a positive entry, a stop on the
// adverse side of entry and targets strictly ordered on the favorable side.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: symbol is empty")
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("signal: unknown direction %q", s.Direction)
	}
	entry := s.EntryPrice()
	if !entry.IsPositive() {
		return fmt.Errorf("signal: entry price must be positive, got %s", entry)
	}
	if s.EntryLow.IsPositive() && s.EntryHigh.IsPositive() && s.EntryHigh.LessThan(s.EntryLow) {
		return fmt.Errorf("signal: entry range high %s below low %s", s.EntryHigh, s.EntryLow)
	}
	if !s.StopLoss.IsPositive() {
		return fmt.Errorf("signal: stop loss must be positive, got %s", s.StopLoss)
	}
	if len(s.Targets) == 0 {
		return fmt.Errorf("signal: at least one target required")
	}
	if len(s.Targets) > MaxTargets {
		return fmt.Errorf("signal: at most %d targets allowed, got %d", MaxTargets, len(s.Targets))
	}

	switch s.Direction {
	case DirectionLong:
		if s.StopLoss.GreaterThanOrEqual(entry) {
			return fmt.Errorf("signal: long stop loss %s not below entry %s", s.StopLoss, entry)
		}
		prev := entry
		for i, t := range s.Targets {
			if t.LessThanOrEqual(prev) {
				return fmt.Errorf("signal: long target %d (%s) not above %s", i+1, t, prev)
			}
			prev = t
		}
	case DirectionShort:
		if s.StopLoss.LessThanOrEqual(entry) {
			return fmt.Errorf("signal: short stop loss %s not above entry %s", s.StopLoss, entry)
		}
		prev := entry
		for i, t := range s.Targets {
			if t.GreaterThanOrEqual(prev) {
				return fmt.Errorf("signal: short target %d (%s) not below %s", i+1, t, prev)
			}
			prev = t
		}
	}

	return nil
}
