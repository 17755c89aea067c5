package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketbots/bots"
	"marketbots/config"
	"marketbots/exchange"
	"marketbots/logging"
	"marketbots/monitor"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := os.Getenv("ENV_FILE")
	cfg := config.Load(envFile)
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	logger, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer closeLog()
	sugar := logger.Sugar()
	for _, w := range cfg.Warnings() {
		sugar.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := bots.NewSupervisor(exchange.Config{
		BaseURL:         cfg.Exchange.URL,
		RequestTimeout:  cfg.Exchange.RequestTimeout,
		RequestInterval: cfg.Exchange.RequestInterval,
	}, logger, cfg.Monitor.StatsInterval)

	randomID, counterID := cfg.Identities()

	random := bots.NewRandomBot(cfg.Exchange.PairID, cfg.Bots.Seed)
	random.Interval = cfg.Bots.RandomInterval
	random.BackoffMin = cfg.Bots.BackoffMin
	random.BackoffMax = cfg.Bots.BackoffMax

	counter := bots.NewCounterBot(cfg.Exchange.PairID)
	counter.Interval = cfg.Bots.CounterInterval
	counter.BackoffMin = cfg.Bots.BackoffMin
	counter.BackoffMax = cfg.Bots.BackoffMax

	sugar.Infow("bots_starting",
		"exchange", cfg.Exchange.URL,
		"pair", cfg.Exchange.PairID,
		"random_user", randomID,
		"counter_user", counterID)

	registered := 0
	for _, p := range []struct {
		identity string
		bot      bots.Bot
	}{
		{randomID, random},
		{counterID, counter},
	} {
		if err := sup.Add(ctx, p.identity, p.bot); err != nil {
			sugar.Errorw("participant_disabled", "identity", p.identity, "err", err)
			continue
		}
		registered++
	}
	if registered == 0 {
		sugar.Error("no participant could register, exiting")
		return 1
	}

	if cfg.Monitor.Addr != "" {
		go func() {
			if err := monitor.NewServer(sup, logger).Run(ctx, cfg.Monitor.Addr); err != nil {
				sugar.Errorw("monitor_failed", "addr", cfg.Monitor.Addr, "err", err)
			}
		}()
	}

	if err := sup.Start(ctx); err != nil {
		sugar.Errorw("supervisor_failed", "err", err)
		return 1
	}
	sugar.Info("shutdown_complete")
	return 0
}
