package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionengine/src/feed"
)

// PaperGateway simulates the venue: entries fill immediately and in full at
// the current mark price, closes always succeed, equity starts at the
// configured balance and absorbs realized deltas on closes.
type PaperGateway struct {
	feed feed.PriceFeed
	log  *logger.Entry

	mu     sync.Mutex
	equity decimal.Decimal
	fills  map[string]FillReport
}

func NewPaperGateway(cfg Config, priceFeed feed.PriceFeed, log *logger.Entry) *PaperGateway {
	return &PaperGateway{
		feed:   priceFeed,
		log:    log,
		equity: decimal.NewFromFloat(cfg.PaperEquity),
		fills:  make(map[string]FillReport),
	}
}

func (g *PaperGateway) PlaceEntry(ctx context.Context, order EntryOrder) (string, error) {
	price, err := g.feed.MarkPrice(ctx, order.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}

	orderID := "paper-" + uuid.NewString()

	g.mu.Lock()
	g.fills[orderID] = FillReport{
		OrderID:  orderID,
		State:    FillStateFilled,
		Quantity: order.Quantity,
		Price:    price,
	}
	g.mu.Unlock()

	g.log.WithFields(map[string]interface{}{
		"symbol":   order.Symbol,
		"quantity": order.Quantity,
		"price":    price,
		"order_id": orderID,
	}).Info("paper entry filled")

	return orderID, nil
}

func (g *PaperGateway) PlaceMarketClose(ctx context.Context, order CloseOrder) error {
	g.log.WithFields(map[string]interface{}{
		"symbol":   order.Symbol,
		"quantity": order.Quantity,
	}).Info("paper close filled")
	return nil
}

func (g *PaperGateway) PollFill(_ context.Context, _ string, orderID string) (FillReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	report, ok := g.fills[orderID]
	if !ok {
		return FillReport{}, fmt.Errorf("unknown paper order %s", orderID)
	}
	return report, nil
}

func (g *PaperGateway) CancelOrder(_ context.Context, _ string, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if report, ok := g.fills[orderID]; ok && report.State == FillStatePending {
		report.State = FillStateRejected
		g.fills[orderID] = report
	}
	return nil
}

func (g *PaperGateway) AccountEquity(context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity, nil
}

// ApplyRealized moves realized PnL into the simulated balance.
func (g *PaperGateway) ApplyRealized(pnl decimal.Decimal) {
	g.mu.Lock()
	g.equity = g.equity.Add(pnl)
	g.mu.Unlock()
}
