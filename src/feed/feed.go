package feed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable signals a transient feed outage. Callers skip the affected
// symbol for the current tick and try again on the next one.
var ErrUnavailable = errors.New("price feed unavailable")

// PriceFeed delivers the latest mark price for a symbol.
type PriceFeed interface {
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Composite tries each feed in order and returns the first price it gets.
// The usual wiring is stream first, REST fallback.
type Composite struct {
	feeds []PriceFeed
}

func NewComposite(feeds ...PriceFeed) *Composite {
	return &Composite{feeds: feeds}
}

func (c *Composite) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var lastErr error
	for _, f := range c.feeds {
		price, err := f.MarkPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return decimal.Zero, lastErr
}
