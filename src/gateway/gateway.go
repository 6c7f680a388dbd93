package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"positionengine/src/model"
)

// ErrTransient marks gateway failures worth retrying on a later tick (network
// errors, rate limits, exchange 5xx). Anything else is treated as final.
var ErrTransient = errors.New("transient gateway error")

// FillState is the exchange-side status of an order.
type FillState string

const (
	FillStatePending  FillState = "PENDING"
	FillStateFilled   FillState = "FILLED"
	FillStateRejected FillState = "REJECTED"
)

// FillReport is the gateway's view of an order after polling.
type FillReport struct {
	OrderID  string
	State    FillState
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// EntryOrder is a request to open a position at market.
type EntryOrder struct {
	Symbol    string
	Direction model.Direction
	Quantity  decimal.Decimal
	Leverage  decimal.Decimal
}

// CloseOrder is a request to flatten part or all of a position at market.
// Reduce-only on exchanges that support it so a duplicate close cannot flip
// the position.
type CloseOrder struct {
	Symbol   string
	Side     model.Direction
	Quantity decimal.Decimal
}

// OrderGateway is the execution venue. Every call may fail transiently; the
// monitoring loop owns retry policy.
type OrderGateway interface {
	PlaceEntry(ctx context.Context, order EntryOrder) (orderID string, err error)
	PlaceMarketClose(ctx context.Context, order CloseOrder) error
	PollFill(ctx context.Context, symbol, orderID string) (FillReport, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
}
