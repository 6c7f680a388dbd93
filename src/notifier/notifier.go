package notifier

import (
	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

// PartialCloseEvent describes one take-profit fill.
type PartialCloseEvent struct {
	Position *model.Position
	Fraction decimal.Decimal
	Price    decimal.Decimal
}

// Ledger receives position lifecycle events. Implementations must not block
// the monitoring loop; slow sinks should buffer or drop.
type Ledger interface {
	OnPositionOpened(p *model.Position)
	OnPartialClose(ev PartialCloseEvent)
	OnPositionClosed(p *model.Position, outcome *model.TradeOutcome)
	OnOperatorAlert(positionID, symbol, message string)
}

// Multi fans events out to several ledgers.
type Multi struct {
	ledgers []Ledger
}

func NewMulti(ledgers ...Ledger) *Multi {
	return &Multi{ledgers: ledgers}
}

func (m *Multi) OnPositionOpened(p *model.Position) {
	for _, l := range m.ledgers {
		l.OnPositionOpened(p)
	}
}

func (m *Multi) OnPartialClose(ev PartialCloseEvent) {
	for _, l := range m.ledgers {
		l.OnPartialClose(ev)
	}
}

func (m *Multi) OnPositionClosed(p *model.Position, outcome *model.TradeOutcome) {
	for _, l := range m.ledgers {
		l.OnPositionClosed(p, outcome)
	}
}

func (m *Multi) OnOperatorAlert(positionID, symbol, message string) {
	for _, l := range m.ledgers {
		l.OnOperatorAlert(positionID, symbol, message)
	}
}
