package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionengine/cmd/engine"
	"positionengine/src/database"
	"positionengine/src/repository"
	"positionengine/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	log := logger.WithField("app", "positionengine")

	eng, err := engine.BuildMonitor(log)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Rehydrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to rehydrate positions")
	}

	go eng.Run(ctx)

	router := server.NewRouter(eng, repository.NewPositionRepository(), repository.NewOutcomeRepository())
	server.StartServer(server.GetConfig(), router, func(drainCtx context.Context) {
		cancel()
		eng.Drain(drainCtx)
	})
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
