package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"positionengine/src/feed"
	"positionengine/src/gateway"
	"positionengine/src/model"
	"positionengine/src/notifier"
	"positionengine/src/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- stubs ---

type stubFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	down   bool
}

func (f *stubFeed) set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]decimal.Decimal)
	}
	f.prices[symbol] = price
}

func (f *stubFeed) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return decimal.Zero, feed.ErrUnavailable
	}
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, feed.ErrUnavailable
	}
	return price, nil
}

type stubGateway struct {
	mu         sync.Mutex
	equity     decimal.Decimal
	equityErr  error
	fills      map[string]gateway.FillReport
	entries    []gateway.EntryOrder
	closes     []gateway.CloseOrder
	failClose  bool
	entryErr   error
	entryDelay time.Duration
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		equity: d("10000"),
		fills:  make(map[string]gateway.FillReport),
	}
}

func (g *stubGateway) PlaceEntry(_ context.Context, order gateway.EntryOrder) (string, error) {
	g.mu.Lock()
	delay := g.entryDelay
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entryErr != nil {
		return "", g.entryErr
	}
	g.entries = append(g.entries, order)
	orderID := fmt.Sprintf("entry-%d", len(g.entries))
	g.fills[orderID] = gateway.FillReport{
		OrderID:  orderID,
		State:    gateway.FillStateFilled,
		Quantity: order.Quantity,
		Price:    d("50000"),
	}
	return orderID, nil
}

func (g *stubGateway) PlaceMarketClose(_ context.Context, order gateway.CloseOrder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failClose {
		return gateway.ErrTransient
	}
	g.closes = append(g.closes, order)
	return nil
}

func (g *stubGateway) PollFill(_ context.Context, _ string, orderID string) (gateway.FillReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	report, ok := g.fills[orderID]
	if !ok {
		return gateway.FillReport{}, gateway.ErrTransient
	}
	return report, nil
}

func (g *stubGateway) CancelOrder(context.Context, string, string) error { return nil }

func (g *stubGateway) AccountEquity(context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.equityErr != nil {
		return decimal.Zero, g.equityErr
	}
	return g.equity, nil
}

func (g *stubGateway) closeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.closes)
}

type memoryStore struct {
	mu     sync.Mutex
	rows   map[string]*model.Position
	saves  int
	active []model.Position
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]*model.Position)}
}

func (s *memoryStore) Create(_ context.Context, position *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[position.ID] = position
	return nil
}

func (s *memoryStore) Save(_ context.Context, position *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[position.ID] = position
	s.saves++
	return nil
}

func (s *memoryStore) FindActive(context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

type memoryOutcomes struct {
	mu   sync.Mutex
	rows []model.TradeOutcome
}

func (s *memoryOutcomes) Create(_ context.Context, outcome *model.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *outcome)
	return nil
}

func (s *memoryOutcomes) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memoryOutcomes) last() model.TradeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[len(s.rows)-1]
}

type countingLedger struct {
	mu       sync.Mutex
	opened   int
	partials int
	closed   int
	alerts   int
}

func (l *countingLedger) OnPositionOpened(*model.Position) {
	l.mu.Lock()
	l.opened++
	l.mu.Unlock()
}

func (l *countingLedger) OnPartialClose(notifier.PartialCloseEvent) {
	l.mu.Lock()
	l.partials++
	l.mu.Unlock()
}

func (l *countingLedger) OnPositionClosed(*model.Position, *model.TradeOutcome) {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
}

func (l *countingLedger) OnOperatorAlert(string, string, string) {
	l.mu.Lock()
	l.alerts++
	l.mu.Unlock()
}

// --- fixtures ---

type fixture struct {
	monitor  *Monitor
	feed     *stubFeed
	venue    *stubGateway
	store    *memoryStore
	outcomes *memoryOutcomes
	ledger   *countingLedger
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	snap, err := risk.Config{
		RiskPerTrade:       0.02,
		MaxOpenTrades:      5,
		MaxPortfolioRisk:   0.10,
		MaxLeverage:        20,
		TrailingActivation: 0.05,
		TrailingDistance:   0.02,
		BreakevenThreshold: 0.03,
		EmergencyStop:      0.15,
		MaxTradeDuration:   168 * time.Hour,
		MinLotSize:         0.001,
	}.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	f := &fixture{
		feed:     &stubFeed{},
		venue:    newStubGateway(),
		store:    newMemoryStore(),
		outcomes: &memoryOutcomes{},
		ledger:   &countingLedger{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	nullLog, _ := logrustest.NewNullLogger()
	f.monitor = New(
		Config{LoopPeriod: 10 * time.Second, CloseRetryAttempts: 3},
		snap,
		f.feed,
		f.venue,
		f.store,
		f.outcomes,
		f.ledger,
		logger.NewEntry(nullLog),
	)
	f.monitor.now = func() time.Time { return f.clock }
	f.feed.set("BTCUSDT", d("50000"))

	return f
}

func (f *fixture) advance(dur time.Duration) {
	f.clock = f.clock.Add(dur)
}

func btcSignal() model.Signal {
	return model.Signal{
		Symbol:    "BTCUSDT",
		Direction: model.DirectionLong,
		Entry:     d("50000"),
		Targets:   []decimal.Decimal{d("51000"), d("52000"), d("53000"), d("54000")},
		StopLoss:  d("49000"),
	}
}

// admitAndOpen runs a signal through admission and one tick so the entry fill
// is confirmed.
func admitAndOpen(t *testing.T, f *fixture) *model.Position {
	t.Helper()

	pos, err := f.monitor.Admit(context.Background(), btcSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	snaps := f.monitor.Snapshot()
	if len(snaps) != 1 || snaps[0].State != model.PositionStateOpen {
		t.Fatalf("expected one OPEN position, got %+v", snaps)
	}
	return pos
}

// --- tests ---

func TestAdmitPlacesEntry(t *testing.T) {
	f := newFixture(t)

	pos, err := f.monitor.Admit(context.Background(), btcSignal())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	if pos.State != model.PositionStatePendingEntry {
		t.Fatalf("expected PENDING_ENTRY, got %s", pos.State)
	}
	if !pos.Quantity.Equal(d("0.2")) {
		t.Fatalf("expected sized quantity 0.2, got %s", pos.Quantity)
	}
	if len(f.venue.entries) != 1 {
		t.Fatalf("expected one entry order, got %d", len(f.venue.entries))
	}
	if pos.EntryOrderID == "" {
		t.Fatalf("entry order id must be recorded")
	}

	stats := f.monitor.Stats()
	if stats.SignalsAdmitted != 1 || stats.ActivePositions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAdmitRejectsDuplicateSymbol(t *testing.T) {
	f := newFixture(t)

	if _, err := f.monitor.Admit(context.Background(), btcSignal()); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	_, err := f.monitor.Admit(context.Background(), btcSignal())
	var limitErr *risk.PortfolioLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected PortfolioLimitError, got %v", err)
	}

	if stats := f.monitor.Stats(); stats.SignalsRejected != 1 {
		t.Fatalf("expected one rejection, got %+v", stats)
	}
}

func TestAdmitSerializesPortfolioLimits(t *testing.T) {
	f := newFixture(t)

	// A slow venue keeps every admission in flight at once; the reserved
	// slots must still be counted against the portfolio limits.
	f.venue.mu.Lock()
	f.venue.entryDelay = 20 * time.Millisecond
	f.venue.mu.Unlock()

	symbols := []string{
		"LINKUSDT", "XRPUSDT", "ATOMUSDT", "NEARUSDT", "UNIUSDT",
		"AAVEUSDT", "FILUSDT", "LTCUSDT", "XLMUSDT", "ALGOUSDT",
	}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sig := btcSignal()
			sig.Symbol = symbol
			if _, err := f.monitor.Admit(context.Background(), sig); err == nil {
				admitted.Add(1)
			}
		}(symbol)
	}
	wg.Wait()

	if got := admitted.Load(); got != 5 {
		t.Fatalf("expected max open trades to cap admissions at 5, got %d", got)
	}
	if stats := f.monitor.Stats(); stats.ActivePositions != 5 || stats.SignalsRejected != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFailedEntryReleasesReservation(t *testing.T) {
	f := newFixture(t)

	f.venue.mu.Lock()
	f.venue.entryErr = gateway.ErrTransient
	f.venue.mu.Unlock()

	sig := btcSignal()
	sig.Symbol = "LINKUSDT"
	if _, err := f.monitor.Admit(context.Background(), sig); err == nil {
		t.Fatalf("expected admit to fail when the entry order fails")
	}

	// The reservation is folded back, so the same symbol admits once the
	// venue recovers.
	f.venue.mu.Lock()
	f.venue.entryErr = nil
	f.venue.mu.Unlock()

	if _, err := f.monitor.Admit(context.Background(), sig); err != nil {
		t.Fatalf("admit after recovery: %v", err)
	}
}

func TestAdmitFallsBackToCachedEquity(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.venue.mu.Lock()
	f.venue.equityErr = gateway.ErrTransient
	f.venue.mu.Unlock()

	sig := btcSignal()
	sig.Symbol = "XRPUSDT"
	pos, err := f.monitor.Admit(context.Background(), sig)
	if err != nil {
		t.Fatalf("admit with cached equity: %v", err)
	}
	if !pos.Quantity.Equal(d("0.2")) {
		t.Fatalf("expected sizing from last known equity, got %s", pos.Quantity)
	}
}

func TestAdmitRejectsWhenEquityNeverSeen(t *testing.T) {
	f := newFixture(t)

	f.venue.mu.Lock()
	f.venue.equityErr = gateway.ErrTransient
	f.venue.mu.Unlock()

	if _, err := f.monitor.Admit(context.Background(), btcSignal()); err == nil {
		t.Fatalf("expected admit to fail with no equity ever observed")
	}
	if stats := f.monitor.Stats(); stats.SignalsRejected != 1 {
		t.Fatalf("expected one rejection, got %+v", stats)
	}
}

func TestTickConfirmsEntry(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	if f.ledger.opened != 1 {
		t.Fatalf("expected opened ledger event, got %d", f.ledger.opened)
	}
	if stats := f.monitor.Stats(); stats.PositionsOpened != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTickStopLossClosesPosition(t *testing.T) {
	f := newFixture(t)
	pos := admitAndOpen(t, f)

	f.feed.set("BTCUSDT", d("49000"))
	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	if f.venue.closeCount() != 1 {
		t.Fatalf("expected one close order, got %d", f.venue.closeCount())
	}
	if f.outcomes.count() != 1 {
		t.Fatalf("expected one outcome, got %d", f.outcomes.count())
	}
	outcome := f.outcomes.last()
	if outcome.ExitReason != model.ExitReasonStopLoss || outcome.PositionID != pos.ID {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if f.ledger.closed != 1 {
		t.Fatalf("expected closed ledger event, got %d", f.ledger.closed)
	}

	// Terminal machines are swept.
	if snaps := f.monitor.Snapshot(); len(snaps) != 0 {
		t.Fatalf("expected no live positions, got %d", len(snaps))
	}
}

func TestTickPartialTargets(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.feed.set("BTCUSDT", d("51000"))
	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	if f.venue.closeCount() != 1 {
		t.Fatalf("expected one partial close order, got %d", f.venue.closeCount())
	}
	if f.ledger.partials != 1 {
		t.Fatalf("expected one partial ledger event, got %d", f.ledger.partials)
	}
	snaps := f.monitor.Snapshot()
	if len(snaps) != 1 || snaps[0].State != model.PositionStatePartiallyClosed {
		t.Fatalf("expected PARTIALLY_CLOSED, got %+v", snaps)
	}
	if f.outcomes.count() != 0 {
		t.Fatalf("partial close must not emit an outcome")
	}
}

func TestFeedOutageSkipsSymbol(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.feed.mu.Lock()
	f.feed.down = true
	f.feed.mu.Unlock()

	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	snaps := f.monitor.Snapshot()
	if len(snaps) != 1 || snaps[0].State != model.PositionStateOpen {
		t.Fatalf("outage must not change state, got %+v", snaps)
	}
	if stats := f.monitor.Stats(); stats.FeedOutages != 1 {
		t.Fatalf("expected one feed outage, got %+v", stats)
	}
}

func TestCloseRetryExhaustionAlertsOperator(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.venue.mu.Lock()
	f.venue.failClose = true
	f.venue.mu.Unlock()

	// Stop hit: the close command fails and becomes an intent.
	f.feed.set("BTCUSDT", d("49000"))
	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	// Engine state is committed regardless of execution.
	if f.outcomes.count() != 1 {
		t.Fatalf("outcome must be recorded despite close failure, got %d", f.outcomes.count())
	}

	// Retries happen on following ticks until the bound is hit.
	for i := 0; i < 3; i++ {
		f.advance(10 * time.Second)
		f.monitor.Tick(context.Background())
	}

	if f.ledger.alerts != 1 {
		t.Fatalf("expected one operator alert, got %d", f.ledger.alerts)
	}
	stats := f.monitor.Stats()
	if stats.OperatorAlerts != 1 || stats.CloseRetries == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if snaps := f.monitor.Snapshot(); len(snaps) != 0 {
		t.Fatalf("machine must be swept once the intent is abandoned, got %d", len(snaps))
	}
}

func TestForceClose(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	closed, err := f.monitor.ForceClose(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if closed.State != model.PositionStateClosed || closed.ExitReason != model.ExitReasonManual {
		t.Fatalf("unexpected closed position: %+v", closed)
	}
	if f.venue.closeCount() != 1 {
		t.Fatalf("expected one close order, got %d", f.venue.closeCount())
	}
	if f.outcomes.count() != 1 {
		t.Fatalf("expected one outcome, got %d", f.outcomes.count())
	}

	if _, err := f.monitor.ForceClose(context.Background(), "BTCUSDT"); err == nil {
		t.Fatalf("expected error when no live position remains")
	}
}

func TestConcurrentForceCloseAndTick(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	// The stop is hit while an operator force-closes the same position: the
	// two transitions race but exactly one close may win.
	f.feed.set("BTCUSDT", d("49000"))
	f.advance(10 * time.Second)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		f.monitor.Tick(context.Background())
	}()
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			// Losing the race to the tick is fine; the point is that a
			// loser never emits a second close.
			_, _ = f.monitor.ForceClose(context.Background(), "BTCUSDT")
		}()
	}
	wg.Wait()

	if f.venue.closeCount() != 1 {
		t.Fatalf("expected exactly one close order, got %d", f.venue.closeCount())
	}
	if f.outcomes.count() != 1 {
		t.Fatalf("expected exactly one outcome, got %d", f.outcomes.count())
	}
	if f.ledger.closed != 1 {
		t.Fatalf("expected exactly one closed ledger event, got %d", f.ledger.closed)
	}
}

func TestRehydrate(t *testing.T) {
	f := newFixture(t)

	created := f.clock.Add(-time.Hour)
	f.store.active = []model.Position{{
		ID:              "pos-old",
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionLong,
		EntryPrice:      d("50000"),
		Quantity:        d("0.2"),
		InitialQuantity: d("0.2"),
		Leverage:        d("1"),
		RiskAmount:      d("200"),
		StopPrice:       d("49000"),
		InitialStop:     d("49000"),
		StopKind:        model.StopKindInitial,
		Targets: []model.Target{
			{Sequence: 0, Price: d("51000"), Fraction: d("1")},
		},
		State:     model.PositionStateOpen,
		CreatedAt: created,
		UpdatedAt: created,
	}}

	if err := f.monitor.Rehydrate(context.Background()); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	snaps := f.monitor.Snapshot()
	if len(snaps) != 1 || snaps[0].ID != "pos-old" {
		t.Fatalf("expected rehydrated position, got %+v", snaps)
	}

	// The rehydrated machine is fully live: a stop hit closes it.
	f.feed.set("BTCUSDT", d("48900"))
	f.monitor.Tick(context.Background())

	if f.outcomes.count() != 1 || f.outcomes.last().ExitReason != model.ExitReasonStopLoss {
		t.Fatalf("expected stop loss outcome after rehydrate, got %+v", f.outcomes.rows)
	}
}

func TestDrainRetriesPendingCloses(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.venue.mu.Lock()
	f.venue.failClose = true
	f.venue.mu.Unlock()

	f.feed.set("BTCUSDT", d("49000"))
	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	// The venue recovers before shutdown; the drain flushes the intent.
	f.venue.mu.Lock()
	f.venue.failClose = false
	f.venue.mu.Unlock()

	f.monitor.Drain(context.Background())

	if f.venue.closeCount() != 1 {
		t.Fatalf("expected drained close order, got %d", f.venue.closeCount())
	}
	if f.ledger.alerts != 0 {
		t.Fatalf("no alert expected when the drain succeeds, got %d", f.ledger.alerts)
	}
}

func TestDrainAlertsWhenVenueStaysDown(t *testing.T) {
	f := newFixture(t)
	admitAndOpen(t, f)

	f.venue.mu.Lock()
	f.venue.failClose = true
	f.venue.mu.Unlock()

	f.feed.set("BTCUSDT", d("49000"))
	f.advance(10 * time.Second)
	f.monitor.Tick(context.Background())

	f.monitor.Drain(context.Background())

	if f.ledger.alerts != 1 {
		t.Fatalf("expected one operator alert, got %d", f.ledger.alerts)
	}
}

func TestSwapRiskConfig(t *testing.T) {
	f := newFixture(t)

	cfg := f.monitor.RiskConfig()
	cfg.MaxOpenTrades = 1
	f.monitor.SwapRiskConfig(cfg)

	if f.monitor.RiskConfig().MaxOpenTrades != 1 {
		t.Fatalf("swap did not take effect")
	}

	if _, err := f.monitor.Admit(context.Background(), btcSignal()); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	sig := btcSignal()
	sig.Symbol = "XRPUSDT"
	f.feed.set("XRPUSDT", d("2"))
	if _, err := f.monitor.Admit(context.Background(), sig); err == nil {
		t.Fatalf("expected rejection at swapped max open trades")
	}
}
