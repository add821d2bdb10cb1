//go:build !android
// +build !android

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/keshucs12345/voicechat/internal/app"
	"github.com/keshucs12345/voicechat/internal/config"
	"github.com/keshucs12345/voicechat/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "config file (default: ./voicechat.{yaml,json,toml} if present)")
	envFile := flag.String("env", ".env", "dotenv file with API keys")
	flag.Parse()

	// Load .env (OPENAI_API_KEY, REECHO_API_KEY) and the config file
	store, err := config.Load(config.Options{EnvFile: *envFile, File: *configFile})
	if err != nil {
		boot := logging.New(logging.Config{})
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	cfg := store.Snapshot()
	log := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if f := store.File(); f != "" {
		log.Info().Str("file", f).Msg("configuration loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	log.Info().Msg("voicechat running (Ctrl+C to exit)")
	runErr := a.Run(ctx)

	log.Info().Msg("shutting down")
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing audio device")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}
