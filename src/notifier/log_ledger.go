package notifier

import (
	logger "github.com/sirupsen/logrus"

	"positionengine/src/model"
)

// LogLedger writes lifecycle events to the structured log. It is always wired
// in, so every transition leaves an audit trail even with no webhook set.
type LogLedger struct {
	log *logger.Entry
}

func NewLogLedger(log *logger.Entry) *LogLedger {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &LogLedger{log: log}
}

func (l *LogLedger) OnPositionOpened(p *model.Position) {
	l.log.WithFields(map[string]interface{}{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"direction":   p.Direction,
		"entry_price": p.EntryPrice,
		"quantity":    p.Quantity,
		"stop_price":  p.StopPrice,
		"targets":     len(p.Targets),
	}).Info("position opened")
}

func (l *LogLedger) OnPartialClose(ev PartialCloseEvent) {
	l.log.WithFields(map[string]interface{}{
		"position_id": ev.Position.ID,
		"symbol":      ev.Position.Symbol,
		"fraction":    ev.Fraction,
		"price":       ev.Price,
		"remaining":   ev.Position.Quantity,
	}).Info("partial close")
}

func (l *LogLedger) OnPositionClosed(p *model.Position, outcome *model.TradeOutcome) {
	fields := map[string]interface{}{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"exit_reason": p.ExitReason,
	}
	if outcome != nil {
		fields["realized_pnl"] = outcome.RealizedPnl
		fields["pnl_percent"] = outcome.PnlPercent
		fields["duration"] = outcome.Duration().String()
	}
	l.log.WithFields(fields).Info("position closed")
}

func (l *LogLedger) OnOperatorAlert(positionID, symbol, message string) {
	l.log.WithFields(map[string]interface{}{
		"position_id": positionID,
		"symbol":      symbol,
	}).Error(message)
}
