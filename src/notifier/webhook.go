package notifier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionengine/src/model"
)

type WebhookConfig struct {
	URL     string        `envconfig:"NOTIFIER_WEBHOOK_URL" default:""`
	Timeout time.Duration `envconfig:"NOTIFIER_WEBHOOK_TIMEOUT" default:"10s"`
	Retries int           `envconfig:"NOTIFIER_WEBHOOK_RETRIES" default:"2"`
}

func GetWebhookConfig() WebhookConfig {
	var config WebhookConfig
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// webhookEvent is the JSON payload posted for every lifecycle event.
type webhookEvent struct {
	Event      string          `json:"event"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Direction  model.Direction `json:"direction,omitempty"`
	State      string          `json:"state,omitempty"`
	ExitReason string          `json:"exit_reason,omitempty"`

	Price       *decimal.Decimal `json:"price,omitempty"`
	Fraction    *decimal.Decimal `json:"fraction,omitempty"`
	RealizedPnl *decimal.Decimal `json:"realized_pnl,omitempty"`
	PnlPercent  *decimal.Decimal `json:"pnl_percent,omitempty"`

	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// WebhookLedger posts lifecycle events to an external endpoint. Deliveries
// run in their own goroutine so a slow endpoint never stalls a tick; failures
// are logged and dropped.
type WebhookLedger struct {
	url  string
	http *resty.Client
	log  *logger.Entry
}

func NewWebhookLedger(cfg WebhookConfig, log *logger.Entry) *WebhookLedger {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries)

	return &WebhookLedger{
		url:  cfg.URL,
		http: httpClient,
		log:  log,
	}
}

func (w *WebhookLedger) OnPositionOpened(p *model.Position) {
	entry := p.EntryPrice
	w.deliver(webhookEvent{
		Event:      "position_opened",
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		State:      p.State,
		Price:      &entry,
		At:         time.Now().UTC(),
	})
}

func (w *WebhookLedger) OnPartialClose(ev PartialCloseEvent) {
	price := ev.Price
	fraction := ev.Fraction
	w.deliver(webhookEvent{
		Event:      "partial_close",
		PositionID: ev.Position.ID,
		Symbol:     ev.Position.Symbol,
		Direction:  ev.Position.Direction,
		State:      ev.Position.State,
		Price:      &price,
		Fraction:   &fraction,
		At:         time.Now().UTC(),
	})
}

func (w *WebhookLedger) OnPositionClosed(p *model.Position, outcome *model.TradeOutcome) {
	ev := webhookEvent{
		Event:      "position_closed",
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		State:      p.State,
		ExitReason: p.ExitReason,
		At:         time.Now().UTC(),
	}
	if outcome != nil {
		pnl := outcome.RealizedPnl
		pct := outcome.PnlPercent
		exit := outcome.ExitPrice
		ev.RealizedPnl = &pnl
		ev.PnlPercent = &pct
		ev.Price = &exit
	}
	w.deliver(ev)
}

func (w *WebhookLedger) OnOperatorAlert(positionID, symbol, message string) {
	w.deliver(webhookEvent{
		Event:      "operator_alert",
		PositionID: positionID,
		Symbol:     symbol,
		Message:    message,
		At:         time.Now().UTC(),
	})
}

func (w *WebhookLedger) deliver(ev webhookEvent) {
	if w.url == "" {
		return
	}

	go func() {
		resp, err := w.http.R().
			SetHeader("Content-Type", "application/json").
			SetBody(ev).
			Post(w.url)
		if err != nil {
			w.log.WithError(err).WithField("event", ev.Event).Warn("webhook delivery failed")
			return
		}
		if resp.StatusCode() >= 300 {
			w.log.WithFields(map[string]interface{}{
				"event":  ev.Event,
				"status": resp.StatusCode(),
			}).Warn("webhook delivery rejected")
		}
	}()
}
