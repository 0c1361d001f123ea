package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	engineCmd "papertrader/cmd/engine"
	"papertrader/cmd/seed"
	"papertrader/src/database"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Papertrader CMD"
	app.Usage = "The papertrader command line interface"

	app.Commands = []cli.Command{
		engineCMD,
		seedCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the settlement engine",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the headless settlement engine`,
	}
	seedCMD = cli.Command{
		Name:        "seed",
		Usage:       "seed trading pairs and demo data",
		Action:      seedAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Install default trading pairs and a funded demo account`,
	}
)

func engineAction(_ *cli.Context) error {

	logrus.Info("Starting settlement engine CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	runner := &engineCmd.Runner{
		Log: logrus.WithField("cmd", "engine"),
		DB:  database.MainDB,
	}

	err := runner.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting engine cmd")
		return err
	}

	return nil
}

func seedAction(_ *cli.Context) error {

	logrus.Info("Starting seed CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	seeder := &seed.Seeder{
		Log: logrus.WithField("cmd", "seed"),
		DB:  database.MainDB,
	}

	err := seeder.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting seed cmd")
		return err
	}

	return nil
}
