// Command tincan runs the per-node Tincan dataplane process: it listens on
// the local control socket for a controller to drive it and otherwise does
// nothing until told to create a VirtualNetwork, spec §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipop-project/ipop-tincan-sub000/internal/config"
	"github.com/ipop-project/ipop-tincan-sub000/internal/supervisor"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("config", "", "path to a YAML config file")
		identityPath = flag.String("identity", "", "override identity key path")
		controlPort  = flag.Int("p", 0, "override control port (0 keeps the config/default value)")
		logLevel     = flag.String("log-level", "", "override startup log level: NONE, ERROR, WARNING, INFO, VERBOSE, SENSITIVE")
		showVersion  = flag.Bool("v", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tincan [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("tincan %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tincan: %v\n", err)
		return -1
	}
	if *identityPath != "" {
		cfg.IdentityPath = *identityPath
	}
	if *controlPort != 0 {
		cfg.ControlPort = *controlPort
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	levelVar := new(slog.LevelVar)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	if lvl, err := cfg.SlogLevel(); err != nil {
		log.Warn("invalid configured log level, keeping default", "level", cfg.LogLevel, "err", err)
	} else {
		levelVar.Set(lvl)
	}

	sup, err := supervisor.New(cfg, levelVar, log)
	if err != nil {
		log.Error("start supervisor failed", "err", err)
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sup.Run(ctx)
	sup.Shutdown()
	return 0
}
