package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"positionengine/cmd/engine"
	"positionengine/cmd/keys"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Position Engine CMD"
	app.Usage = "The position engine command line interface"

	app.Commands = []cli.Command{
		engineCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the position engine headless",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the monitoring loop without the HTTP API`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage encrypted exchange credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Generate keys and encrypt exchange API credentials`,
	}
)

func engineAction(_ *cli.Context) error {

	logrus.Info("Starting engine CMD")

	eng := &engine.Engine{}
	err := eng.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func keysAction(_ *cli.Context) error {

	logrus.Info("Starting keys CMD")

	k := &keys.Keys{}
	err := k.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
