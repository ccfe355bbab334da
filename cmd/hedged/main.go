// Copyright 2024 The hedge Authors
// This file is part of the hedge library.
//
// The hedge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hedge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hedge library. If not, see <http://www.gnu.org/licenses/>.

// hedged is the data broker daemon.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/hedgehq/hedge/config"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/node"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Directory holding config.toml and .env",
		Value:   ".",
		Aliases: []string{"c"},
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level (trace|debug|info|warn|error|crit)",
		Value: "info",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Also write logs to this file, with rotation",
	}
)

func main() {
	app := &cli.App{
		Name:  "hedged",
		Usage: "vendor-neutral market data broker",
		Flags: []cli.Flag{configFlag, verbosityFlag, logFileFlag},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the broker node",
				Action: runNode,
			},
			{
				Name:   "coverage",
				Usage:  "Report missing and orphaned data coverage",
				Action: reportCoverage,
			},
		},
		Before: setupLogging,
		// Bare invocation runs the node.
		Action: runNode,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	lvl, err := log.LvlFromString(ctx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	handler := log.Root().GetHandler()
	if path := ctx.String(logFileFlag.Name); path != "" {
		handler = log.MultiHandler(handler, log.FileHandler(path, log.LogfmtFormat()))
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))
	return nil
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	dir := ctx.String(configFlag.Name)
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(ctx.Context); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("Shutting down", "signal", s)
	case <-ctx.Context.Done():
	}
	return n.Stop()
}
