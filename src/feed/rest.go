package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// RESTFeed pulls the last traded price over the exchange REST API. It is the
// fallback when the stream has no fresh quote for a symbol.
type RESTFeed struct {
	exchange goex.API
	quote    string
	log      *logger.Entry
}

func NewRESTFeed(cfg Config, log *logger.Entry) *RESTFeed {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &RESTFeed{
		exchange: binance.NewWithConfig(apiConfig),
		quote:    cfg.QuoteCurrency,
		log:      log,
	}
}

func (f *RESTFeed) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	pair, err := f.currencyPair(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	ticker, err := f.exchange.GetTicker(pair)
	if err != nil {
		f.log.WithError(err).WithField("symbol", symbol).Warn("REST ticker fetch failed")
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	price := decimal.NewFromFloat(ticker.Last)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive ticker for %s", ErrUnavailable, symbol)
	}
	return price, nil
}

func (f *RESTFeed) currencyPair(symbol string) (goex.CurrencyPair, error) {
	upper := strings.ToUpper(symbol)
	if !strings.HasSuffix(upper, f.quote) || len(upper) <= len(f.quote) {
		return goex.CurrencyPair{}, fmt.Errorf("symbol must end in %s: %s", f.quote, symbol)
	}
	base := strings.TrimSuffix(upper, f.quote)
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: f.quote}), nil
}
