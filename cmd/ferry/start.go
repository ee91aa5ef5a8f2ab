package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/crossmesh/ferry/internal/app"
	"github.com/crossmesh/ferry/internal/repo"
	"github.com/urfave/cli"
)

var startCMD = cli.Command{
	Name:  "start",
	Usage: "Start a long-running ferry process",
	Action: func(ctx *cli.Context) error {
		repoRoot, err := repo.PathRootWithDefault(ctx.GlobalString("repo"))
		if err != nil {
			return fmt.Errorf("get repo path: %w", err)
		}

		config, err := repo.UnmarshalConfig(repoRoot)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ferry, err := app.New(config)
		if err != nil {
			return err
		}

		if err := ferry.Start(); err != nil {
			return err
		}

		handleShutdown(ferry)

		return nil
	},
}

func handleShutdown(ferry *app.Ferry) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("Received interrupt signal, shutting down...")

	if err := ferry.Stop(); err != nil {
		logger.WithField("error", err).Error("Shutdown")
		os.Exit(1)
	}
}
