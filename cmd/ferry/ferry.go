package main

import (
	"fmt"
	"os"
	"time"

	"github.com/crossmesh/ferry"
	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/fatih/color"
	"github.com/urfave/cli"
)

var logger = loggers.NewWithModule("cmd")

func main() {
	app := cli.NewApp()
	app.Name = "Ferry"
	app.Usage = "A Coordinator For Cross-Chain Bridge Transfers"
	app.Compiled = time.Now()
	app.Version = fmt.Sprintf("Ferry version: %s-%s-%s\n", ferry.CurrentVersion, ferry.CurrentBranch, ferry.CurrentCommit)

	// global flags
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "repo",
			Usage: "Ferry repository path",
		},
	}

	app.Commands = []cli.Command{
		initCMD,
		startCMD,
		versionCMD,
	}

	err := app.Run(os.Args)
	if err != nil {
		color.Red(err.Error())
		os.Exit(-1)
	}
}
