package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"positionengine/src/database"
	"positionengine/src/feed"
	"positionengine/src/gateway"
	"positionengine/src/monitor"
	"positionengine/src/notifier"
	"positionengine/src/repository"
	"positionengine/src/risk"
)

// Engine is the headless runner: the monitoring loop without the HTTP API.
type Engine struct{}

func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
		return err
	}

	log := logrus.WithField("cmd", "engine")

	eng, err := BuildMonitor(log)
	if err != nil {
		logrus.WithError(err).Error("Failed to build engine")
		return err
	}

	if err := eng.Rehydrate(ctx); err != nil {
		logrus.WithError(err).Error("Failed to rehydrate positions")
		return err
	}

	eng.Run(ctx)

	drainCtx := context.Background()
	eng.Drain(drainCtx)
	return nil
}

// BuildMonitor wires the feed, gateway, stores and notifiers into a monitor
// from environment configuration.
func BuildMonitor(log *logrus.Entry) (*monitor.Monitor, error) {
	riskSnapshot, err := risk.GetConfig().Snapshot()
	if err != nil {
		return nil, err
	}

	feedCfg := feed.GetConfig()
	priceFeed := feed.NewComposite(
		feed.NewStreamFeed(feedCfg, log),
		feed.NewRESTFeed(feedCfg, log),
	)

	gatewayCfg := gateway.GetConfig()
	var venue gateway.OrderGateway
	if gatewayCfg.PaperMode {
		log.Info("paper trading mode, orders are simulated")
		venue = gateway.NewPaperGateway(gatewayCfg, priceFeed, log)
	} else {
		venue, err = gateway.NewBinanceGateway(gatewayCfg, log)
		if err != nil {
			return nil, err
		}
	}

	ledger := notifier.NewMulti(
		notifier.NewLogLedger(log),
		notifier.NewWebhookLedger(notifier.GetWebhookConfig(), log),
	)

	return monitor.New(
		monitor.GetConfig(),
		riskSnapshot,
		priceFeed,
		venue,
		repository.NewPositionRepository(),
		repository.NewOutcomeRepository(),
		ledger,
		log,
	), nil
}
