package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/waypoint/internal/banner"
	"github.com/sebas/waypoint/internal/locationd/app"
	"github.com/sebas/waypoint/internal/locationd/config"
	"github.com/sebas/waypoint/internal/logger"
	"github.com/urfave/cli/v3"
)

const (
	configFlag   = "config"
	httpAddrFlag = "http"
	logLevelFlag = "loglevel"
	nodeIDFlag   = "node-id"
)

var waypointCmd = cli.Command{
	Name:   "waypointd",
	Usage:  "run the waypoint location daemon",
	Action: runDaemon,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  configFlag,
			Usage: "path to a YAML configuration file",
			Value: "",
		},
		&cli.StringFlag{
			Name:  httpAddrFlag,
			Usage: "HTTP control API listen address",
			Value: "",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "log level (debug, info, warn, error)",
			Value: "",
		},
		&cli.StringFlag{
			Name:  nodeIDFlag,
			Usage: "node identifier stamped on published events",
			Value: "",
		},
	},
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if addr := cmd.String(httpAddrFlag); addr != "" {
		cfg.HTTPAddr = addr
	}
	if level := cmd.String(logLevelFlag); level != "" {
		cfg.LogLevel = level
	}
	if nodeID := cmd.String(nodeIDFlag); nodeID != "" {
		cfg.NodeID = nodeID
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	daemon, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer daemon.Close()

	providers := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, p.Name)
	}
	banner.Print("Waypoint Location Daemon", []banner.ConfigLine{
		{Label: "Node", Value: cfg.NodeID},
		{Label: "HTTP API", Value: cfg.HTTPAddr},
		{Label: "Log level", Value: cfg.LogLevel},
		{Label: "Providers", Value: fmt.Sprintf("%v + passive", providers)},
	})

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	slog.Info("Waypoint started", "node", cfg.NodeID, "http", cfg.HTTPAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	time.Sleep(100 * time.Millisecond)
	return nil
}

func main() {
	if err := waypointCmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
