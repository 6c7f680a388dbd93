package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionengine/src/engine"
	"positionengine/src/feed"
	"positionengine/src/gateway"
	"positionengine/src/model"
	"positionengine/src/notifier"
	"positionengine/src/risk"
)

// PositionStore is the persistence surface the monitor needs for positions.
type PositionStore interface {
	Create(ctx context.Context, position *model.Position) error
	Save(ctx context.Context, position *model.Position) error
	FindActive(ctx context.Context) ([]model.Position, error)
}

// OutcomeStore records terminal trade outcomes.
type OutcomeStore interface {
	Create(ctx context.Context, outcome *model.TradeOutcome) error
}

// subscriber is implemented by streaming feeds that need a per-symbol
// subscription before they can serve quotes.
type subscriber interface {
	Subscribe(symbol string)
}

// realizedSink is implemented by the paper gateway so simulated equity tracks
// closed trades.
type realizedSink interface {
	ApplyRealized(pnl decimal.Decimal)
}

// Stats are the monitor's lifetime counters.
type Stats struct {
	SignalsAdmitted int64 `json:"signals_admitted"`
	SignalsRejected int64 `json:"signals_rejected"`
	PositionsOpened int64 `json:"positions_opened"`
	PartialCloses   int64 `json:"partial_closes"`
	PositionsClosed int64 `json:"positions_closed"`
	FeedOutages     int64 `json:"feed_outages"`
	CloseRetries    int64 `json:"close_retries"`
	OperatorAlerts  int64 `json:"operator_alerts"`
	ActivePositions int   `json:"active_positions"`
}

// closeIntent is a close command whose gateway execution has not succeeded
// yet. The machine already committed the state transition; the intent is the
// monitor's reconciliation bookkeeping.
type closeIntent struct {
	cmd      engine.CloseCommand
	attempts int
}

// Monitor owns every live position. One loop drives all state machines:
// each period it polls entry fills, retries pending close commands, fetches
// prices and applies ticks. State is committed before the gateway command it
// produced is executed; a command that keeps failing becomes an operator
// alert after a bounded number of retries.
type Monitor struct {
	cfg       Config
	priceFeed feed.PriceFeed
	venue     gateway.OrderGateway
	positions PositionStore
	outcomes  OutcomeStore
	ledger    notifier.Ledger
	log       *logger.Entry
	now       func() time.Time

	riskMu  sync.RWMutex
	riskCfg risk.Snapshot

	// admitMu serializes portfolio admission: the slot a signal claims must
	// be visible to every concurrent Admit before its entry order is placed.
	// It also guards the equity cache.
	admitMu    sync.Mutex
	lastEquity decimal.Decimal
	hasEquity  bool

	mu       sync.Mutex
	machines map[string]*engine.Machine // by position ID
	intents  map[string][]closeIntent   // by position ID
	stats    Stats
}

func New(
	cfg Config,
	riskCfg risk.Snapshot,
	priceFeed feed.PriceFeed,
	venue gateway.OrderGateway,
	positions PositionStore,
	outcomes OutcomeStore,
	ledger notifier.Ledger,
	log *logger.Entry,
) *Monitor {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Monitor{
		cfg:       cfg,
		riskCfg:   riskCfg,
		priceFeed: priceFeed,
		venue:     venue,
		positions: positions,
		outcomes:  outcomes,
		ledger:    ledger,
		log:       log,
		now:       time.Now,
		machines:  make(map[string]*engine.Machine),
		intents:   make(map[string][]closeIntent),
	}
}

// RiskConfig returns the snapshot used for the next tick.
func (m *Monitor) RiskConfig() risk.Snapshot {
	m.riskMu.RLock()
	defer m.riskMu.RUnlock()
	return m.riskCfg
}

// SwapRiskConfig atomically replaces the risk snapshot. Open positions keep
// the sizing they were admitted with; only future decisions see the change.
func (m *Monitor) SwapRiskConfig(cfg risk.Snapshot) {
	m.riskMu.Lock()
	m.riskCfg = cfg
	m.riskMu.Unlock()

	m.log.Info("risk configuration swapped")
}

// Admit runs a signal through validation, portfolio limits and sizing. On
// success the position is persisted in PENDING_ENTRY and its entry order
// submitted; the fill is confirmed by the loop on later ticks.
func (m *Monitor) Admit(ctx context.Context, sig model.Signal) (*model.Position, error) {
	cfg := m.RiskConfig()

	if err := sig.Validate(); err != nil {
		m.reject(sig, err)
		return nil, err
	}

	machine, err := m.reserve(ctx, sig, cfg)
	if err != nil {
		m.reject(sig, err)
		return nil, err
	}
	pos := machine.Snapshot()

	orderID, err := m.venue.PlaceEntry(ctx, gateway.EntryOrder{
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Quantity:  pos.Quantity,
		Leverage:  pos.Leverage,
	})
	if err != nil {
		// The slot was reserved before the order; fold it back so the next
		// signal sees it freed.
		res := machine.OnEntryFill(engine.Fill{Status: engine.FillRejected}, m.now())
		m.apply(ctx, machine, res)
		m.reject(sig, err)
		return nil, fmt.Errorf("entry order failed: %w", err)
	}

	machine.SetEntryOrderID(orderID)
	pos = machine.Snapshot()
	m.persist(ctx, &pos)

	if sub, ok := m.priceFeed.(subscriber); ok {
		sub.Subscribe(pos.Symbol)
	}

	m.mu.Lock()
	m.stats.SignalsAdmitted++
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"direction":   pos.Direction,
		"quantity":    pos.Quantity,
		"risk_amount": pos.RiskAmount,
	}).Info("signal admitted")

	return &pos, nil
}

// reserve claims a portfolio slot for the signal: sizing, limit checks,
// persisting the PENDING_ENTRY row and registering the machine all happen
// under one lock, so two concurrent signals can never both pass the limits.
func (m *Monitor) reserve(ctx context.Context, sig model.Signal, cfg risk.Snapshot) (*engine.Machine, error) {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	equity, err := m.equity(ctx)
	if err != nil {
		return nil, err
	}

	sizing, err := risk.ComputeSize(sig, cfg, equity)
	if err != nil {
		return nil, err
	}

	if err := risk.Admit(sig.Symbol, sizing.RiskAmount, cfg, equity, m.openTrades(), risk.SameGroup); err != nil {
		return nil, err
	}

	pos := risk.NewPosition(uuid.NewString(), sig, sizing, cfg, m.now())
	if err := m.positions.Create(ctx, pos); err != nil {
		return nil, err
	}

	machine := engine.NewMachine(pos, m.log)

	m.mu.Lock()
	m.machines[pos.ID] = machine
	m.mu.Unlock()

	return machine, nil
}

// equity fetches account equity, falling back to the last known value when
// the venue is unreachable. Callers hold admitMu.
func (m *Monitor) equity(ctx context.Context) (decimal.Decimal, error) {
	eq, err := m.venue.AccountEquity(ctx)
	if err != nil {
		if m.hasEquity {
			m.log.WithError(err).Warn("equity refresh failed, using last known value")
			return m.lastEquity, nil
		}
		return decimal.Zero, fmt.Errorf("equity unavailable: %w", err)
	}
	m.lastEquity = eq
	m.hasEquity = true
	return eq, nil
}

func (m *Monitor) reject(sig model.Signal, err error) {
	m.mu.Lock()
	m.stats.SignalsRejected++
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{
		"symbol":    sig.Symbol,
		"direction": sig.Direction,
	}).WithError(err).Warn("signal rejected")
}

// openTrades lists non-terminal positions for portfolio admission.
func (m *Monitor) openTrades() []risk.OpenTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	trades := make([]risk.OpenTrade, 0, len(m.machines))
	for _, machine := range m.machines {
		p := machine.Snapshot()
		if p.IsTerminal() {
			continue
		}
		trades = append(trades, risk.OpenTrade{Symbol: p.Symbol, RiskAmount: p.RiskAmount})
	}
	return trades
}

// Rehydrate loads every non-terminal position from storage and resumes
// monitoring it. Called once on startup.
func (m *Monitor) Rehydrate(ctx context.Context) error {
	active, err := m.positions.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}

	m.mu.Lock()
	for i := range active {
		pos := &active[i]
		m.machines[pos.ID] = engine.NewMachine(pos, m.log)
		if sub, ok := m.priceFeed.(subscriber); ok {
			sub.Subscribe(pos.Symbol)
		}
	}
	count := len(m.machines)
	m.mu.Unlock()

	m.log.WithField("count", count).Info("positions rehydrated")
	return nil
}

// Run drives the loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.LoopPeriod)
	defer ticker.Stop()

	m.log.WithField("period", m.cfg.LoopPeriod).Info("monitoring loop started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitoring loop stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one full pass over every live position. Failures are isolated
// per position: one bad symbol never blocks the rest.
func (m *Monitor) Tick(ctx context.Context) {
	now := m.now()
	cfg := m.RiskConfig()

	m.retryIntents(ctx)

	for _, machine := range m.liveMachines() {
		m.tickOne(ctx, machine, now, cfg)
	}

	m.sweepTerminal()
}

func (m *Monitor) liveMachines() []*engine.Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*engine.Machine, 0, len(m.machines))
	for _, machine := range m.machines {
		out = append(out, machine)
	}
	return out
}

func (m *Monitor) tickOne(ctx context.Context, machine *engine.Machine, now time.Time, cfg risk.Snapshot) {
	pos := machine.Snapshot()
	log := m.log.WithFields(map[string]interface{}{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
	})

	if pos.State == model.PositionStatePendingEntry {
		m.confirmEntry(ctx, machine, pos, now, log)
		return
	}
	if !pos.IsOpen() {
		return
	}

	price, err := m.priceFeed.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		m.mu.Lock()
		m.stats.FeedOutages++
		m.mu.Unlock()
		log.WithError(err).Warn("price unavailable, skipping tick")
		return
	}

	res := machine.OnTick(price, now, cfg)
	m.apply(ctx, machine, res)
}

// confirmEntry polls the venue for the entry order's fate.
func (m *Monitor) confirmEntry(ctx context.Context, machine *engine.Machine, pos model.Position, now time.Time, log *logger.Entry) {
	if pos.EntryOrderID == "" {
		return
	}

	report, err := m.venue.PollFill(ctx, pos.Symbol, pos.EntryOrderID)
	if err != nil {
		log.WithError(err).Warn("entry fill poll failed, retrying next tick")
		return
	}

	res := machine.OnEntryFill(toEngineFill(report), now)
	if !res.Opened && res.Outcome == nil {
		return
	}
	m.apply(ctx, machine, res)
}

func toEngineFill(report gateway.FillReport) engine.Fill {
	fill := engine.Fill{
		OrderID:  report.OrderID,
		Quantity: report.Quantity,
		Price:    report.Price,
	}
	switch report.State {
	case gateway.FillStateFilled:
		fill.Status = engine.FillFilled
	case gateway.FillStateRejected:
		fill.Status = engine.FillRejected
	default:
		fill.Status = engine.FillPending
	}
	return fill
}

// apply commits the machine's result: persist first, then execute the
// commands it produced and fan out ledger events.
func (m *Monitor) apply(ctx context.Context, machine *engine.Machine, res engine.Result) {
	pos := machine.Snapshot()

	m.persist(ctx, &pos)

	if res.Opened {
		m.mu.Lock()
		m.stats.PositionsOpened++
		m.mu.Unlock()
		m.ledger.OnPositionOpened(&pos)
	}

	for _, cmd := range res.Commands {
		m.executeClose(ctx, cmd)
	}

	for _, partial := range res.Partials {
		m.mu.Lock()
		m.stats.PartialCloses++
		m.mu.Unlock()
		m.ledger.OnPartialClose(notifier.PartialCloseEvent{
			Position: &pos,
			Fraction: partial.Fraction,
			Price:    partial.Price,
		})
	}

	if res.Outcome != nil {
		m.recordOutcome(ctx, &pos, res.Outcome)
	}
}

func (m *Monitor) persist(ctx context.Context, pos *model.Position) {
	if err := m.positions.Save(ctx, pos); err != nil {
		// The in-memory machine stays authoritative; the row catches up on
		// the next successful save.
		m.log.WithFields(map[string]interface{}{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
		}).WithError(err).Error("position save failed")
	}
}

func (m *Monitor) recordOutcome(ctx context.Context, pos *model.Position, outcome *model.TradeOutcome) {
	if outcome == nil {
		return
	}

	if err := m.outcomes.Create(ctx, outcome); err != nil {
		m.log.WithFields(map[string]interface{}{
			"position_id": pos.ID,
		}).WithError(err).Error("trade outcome save failed")
	}

	if sink, ok := m.venue.(realizedSink); ok {
		sink.ApplyRealized(outcome.RealizedPnl)
	}

	m.mu.Lock()
	m.stats.PositionsClosed++
	m.mu.Unlock()

	m.ledger.OnPositionClosed(pos, outcome)
}

// executeClose sends a close command to the venue. Failures become intents
// retried on following ticks; the committed machine state is never rolled
// back.
func (m *Monitor) executeClose(ctx context.Context, cmd engine.CloseCommand) {
	err := m.venue.PlaceMarketClose(ctx, gateway.CloseOrder{
		Symbol:   cmd.Symbol,
		Side:     cmd.Side,
		Quantity: cmd.Quantity,
	})
	if err == nil {
		return
	}

	m.log.WithFields(map[string]interface{}{
		"position_id": cmd.PositionID,
		"symbol":      cmd.Symbol,
		"quantity":    cmd.Quantity,
	}).WithError(err).Warn("close order failed, queueing retry")

	m.mu.Lock()
	m.intents[cmd.PositionID] = append(m.intents[cmd.PositionID], closeIntent{cmd: cmd, attempts: 1})
	m.mu.Unlock()
}

// retryIntents drains pending close commands. An intent that exhausts its
// attempts is dropped with an operator alert: the engine state says the
// quantity is closed, so a human has to reconcile the venue.
func (m *Monitor) retryIntents(ctx context.Context) {
	m.mu.Lock()
	pending := m.intents
	m.intents = make(map[string][]closeIntent)
	maxAttempts := m.cfg.CloseRetryAttempts
	m.mu.Unlock()

	for positionID, list := range pending {
		var remaining []closeIntent
		for _, intent := range list {
			err := m.venue.PlaceMarketClose(ctx, gateway.CloseOrder{
				Symbol:   intent.cmd.Symbol,
				Side:     intent.cmd.Side,
				Quantity: intent.cmd.Quantity,
			})
			if err == nil {
				continue
			}

			intent.attempts++
			m.mu.Lock()
			m.stats.CloseRetries++
			m.mu.Unlock()

			if intent.attempts >= maxAttempts {
				m.mu.Lock()
				m.stats.OperatorAlerts++
				m.mu.Unlock()

				m.ledger.OnOperatorAlert(positionID, intent.cmd.Symbol, fmt.Sprintf(
					"close order for %s %s failed %d times, manual reconciliation required",
					intent.cmd.Quantity, intent.cmd.Symbol, intent.attempts,
				))
				continue
			}
			remaining = append(remaining, intent)
		}
		if len(remaining) > 0 {
			m.mu.Lock()
			m.intents[positionID] = append(m.intents[positionID], remaining...)
			m.mu.Unlock()
		}
	}
}

// Drain gives every pending close intent one final attempt. Called on
// shutdown; whatever still fails is handed to the operator.
func (m *Monitor) Drain(ctx context.Context) {
	m.mu.Lock()
	pending := m.intents
	m.intents = make(map[string][]closeIntent)
	m.mu.Unlock()

	for positionID, list := range pending {
		for _, intent := range list {
			err := m.venue.PlaceMarketClose(ctx, gateway.CloseOrder{
				Symbol:   intent.cmd.Symbol,
				Side:     intent.cmd.Side,
				Quantity: intent.cmd.Quantity,
			})
			if err == nil {
				continue
			}
			m.mu.Lock()
			m.stats.OperatorAlerts++
			m.mu.Unlock()
			m.ledger.OnOperatorAlert(positionID, intent.cmd.Symbol, fmt.Sprintf(
				"close order for %s %s still pending at shutdown, manual reconciliation required",
				intent.cmd.Quantity, intent.cmd.Symbol,
			))
		}
	}
}

// sweepTerminal drops machines whose position is closed and has no pending
// close intents left.
func (m *Monitor) sweepTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, machine := range m.machines {
		p := machine.Snapshot()
		if p.IsTerminal() && len(m.intents[id]) == 0 {
			delete(m.machines, id)
		}
	}
}

// ForceClose flattens a live position at the current mark price, reason
// MANUAL. Returns the terminal position or an error when the symbol has no
// live position or no price is available.
func (m *Monitor) ForceClose(ctx context.Context, symbol string) (*model.Position, error) {
	machine := m.findBySymbol(symbol)
	if machine == nil {
		return nil, fmt.Errorf("no live position for %s", symbol)
	}

	pos := machine.Snapshot()
	price := decimal.Zero
	if pos.State != model.PositionStatePendingEntry {
		var err error
		price, err = m.priceFeed.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot close without a price: %w", err)
		}
	}

	res := machine.ForceClose(price, m.now())
	m.apply(ctx, machine, res)
	m.sweepTerminal()

	snap := machine.Snapshot()
	return &snap, nil
}

func (m *Monitor) findBySymbol(symbol string) *engine.Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, machine := range m.machines {
		p := machine.Snapshot()
		if strings.EqualFold(p.Symbol, symbol) && !p.IsTerminal() {
			return machine
		}
	}
	return nil
}

// Snapshot returns value copies of every live position for read-only callers.
func (m *Monitor) Snapshot() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Position, 0, len(m.machines))
	for _, machine := range m.machines {
		out = append(out, machine.Snapshot())
	}
	return out
}

// Stats returns the loop's lifetime counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.ActivePositions = len(m.machines)
	return stats
}
