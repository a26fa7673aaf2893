package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/config"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/logging"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/profile"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/relay"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", profile.ConfigPath(), "config file")
	listenFlag := flag.String("listen", "", "listen address (overrides [relay] listen)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	rc := cfg.Relay
	if *listenFlag != "" {
		rc.Listen = *listenFlag
	}
	if rc.DataDir == "" {
		rc.DataDir = filepath.Join(profile.BaseDir(), "relay")
	}

	logger := logging.Console(*debugFlag)
	defer func() { _ = logger.Sync() }()

	srv, err := relay.New(relay.Config{
		DataDir:   rc.DataDir,
		Token:     rc.Token,
		PublicURL: rc.PublicURL,
	}, logger)
	if err != nil {
		logger.Fatal("relay init failed", zap.Error(err))
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("relay starting", zap.String("data_dir", rc.DataDir))
	if err := srv.Listen(rc.Listen); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}
