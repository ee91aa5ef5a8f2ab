package main

import (
	"fmt"

	"github.com/crossmesh/ferry/internal/repo"
	"github.com/urfave/cli"
)

var initCMD = cli.Command{
	Name:  "init",
	Usage: "Initialize ferry local configuration",
	Action: func(ctx *cli.Context) error {
		repoRoot, err := repo.PathRootWithDefault(ctx.GlobalString("repo"))
		if err != nil {
			return err
		}

		if err := repo.Initialize(repoRoot); err != nil {
			return err
		}

		fmt.Printf("initialized ferry repository at %s\n", repoRoot)

		return nil
	},
}
