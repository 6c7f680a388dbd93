package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// markPriceUpdate is the exchange's mark price stream event.
type markPriceUpdate struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// StreamFeed keeps a per-symbol cache of the latest mark price pushed over a
// websocket. One connection is held per subscribed symbol; a reader goroutine
// updates the cache and redials after errors. MarkPrice never blocks on the
// network: a quote older than StaleAfter is treated as an outage.
type StreamFeed struct {
	cfg Config
	log *logger.Entry
	now func() time.Time

	mu     sync.RWMutex
	quotes map[string]quote

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ctx    context.Context
}

func NewStreamFeed(cfg Config, log *logger.Entry) *StreamFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamFeed{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		quotes: make(map[string]quote),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe starts a reader for the symbol. Subscribing twice is harmless in
// that the second reader just overwrites the same cache entry.
func (f *StreamFeed) Subscribe(symbol string) {
	symbol = strings.ToUpper(symbol)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.readLoop(symbol)
	}()
}

func (f *StreamFeed) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	q, ok := f.quotes[strings.ToUpper(symbol)]
	f.mu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", ErrUnavailable, symbol)
	}
	if f.now().Sub(q.at) > f.cfg.StaleAfter {
		return decimal.Zero, fmt.Errorf("%w: stale quote for %s", ErrUnavailable, symbol)
	}
	return q.price, nil
}

// Close stops all readers and waits for them to exit.
func (f *StreamFeed) Close() {
	f.cancel()
	f.wg.Wait()
}

func (f *StreamFeed) readLoop(symbol string) {
	log := f.log.WithField("symbol", symbol)
	streamURL := fmt.Sprintf("%s/%s@markPrice", f.cfg.StreamURL, strings.ToLower(symbol))

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		dialer := websocket.Dialer{
			HandshakeTimeout: f.cfg.DialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		}
		conn, _, err := dialer.DialContext(f.ctx, streamURL, nil)
		if err != nil {
			log.WithError(err).Warn("stream dial failed, retrying")
			if !f.sleep(f.cfg.ReconnectWait) {
				return
			}
			continue
		}

		f.consume(conn, symbol, log)

		if !f.sleep(f.cfg.ReconnectWait) {
			return
		}
	}
}

func (f *StreamFeed) consume(conn *websocket.Conn, symbol string, log *logger.Entry) {
	defer conn.Close()

	// Unblock ReadMessage when the feed is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				log.WithError(err).Warn("stream read error, reconnecting")
			}
			return
		}

		var update markPriceUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			log.WithError(err).Debug("unparseable stream message")
			continue
		}
		if update.Price == "" {
			continue
		}

		price, err := decimal.NewFromString(update.Price)
		if err != nil || !price.IsPositive() {
			log.WithField("price", update.Price).Debug("invalid mark price, skipping")
			continue
		}

		f.store(symbol, price)
	}
}

func (f *StreamFeed) store(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.quotes[symbol] = quote{price: price, at: f.now()}
	f.mu.Unlock()
}

func (f *StreamFeed) sleep(d time.Duration) bool {
	select {
	case <-f.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
