package main

import (
	"fmt"

	"github.com/crossmesh/ferry"
	"github.com/urfave/cli"
)

var versionCMD = cli.Command{
	Name:  "version",
	Usage: "Show version about ferry",
	Action: func(ctx *cli.Context) error {
		fmt.Print(getVersion(true))

		return nil
	},
}

func getVersion(all bool) string {
	version := fmt.Sprintf("Ferry version: %s-%s\n", ferry.CurrentVersion, ferry.CurrentCommit)
	if all {
		version += fmt.Sprintf("App build date: %s\n", ferry.BuildDate)
		version += fmt.Sprintf("System version: %s\n", ferry.Platform)
		version += fmt.Sprintf("Golang version: %s\n", ferry.GoVersion)
	}

	return version
}
