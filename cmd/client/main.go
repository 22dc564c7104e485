package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/duel-sync/internal/client"
	"github.com/DoyleJ11/duel-sync/internal/config"
	"github.com/DoyleJ11/duel-sync/internal/directory"
	"github.com/DoyleJ11/duel-sync/internal/history"
	"github.com/DoyleJ11/duel-sync/internal/logging"
	"github.com/DoyleJ11/duel-sync/internal/statusapi"
	"github.com/DoyleJ11/duel-sync/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var f flags
	flag.StringVar(&f.create, "create", "", "create a room with this name")
	flag.BoolVar(&f.private, "private", false, "make the created room private")
	flag.StringVar(&f.join, "join", "", "join the room with this code")
	flag.StringVar(&f.character, "character", "knight", "character to pick")
	flag.BoolVar(&f.autoplay, "autoplay", true, "ready up and attack on every turn")
	flag.BoolVar(&f.once, "once", false, "exit after the first game")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}
}

func run(f flags) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		recorder history.Recorder = history.Nop{}
		store    *history.Store
	)
	if cfg.HistoryDSN != "" {
		store, err = history.Open(cfg.HistoryDSN)
		if err != nil {
			return err
		}
		recorder = store
	}

	tr := transport.New(transport.Options{
		URL:               cfg.WebSocketURL(),
		ConnectTimeout:    cfg.ConnectTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            log.Named("transport"),
	})
	c := client.New(tr, directory.NewFetcher(cfg.RoomsURL(), nil, log), client.Options{
		PlayerName:      cfg.PlayerName,
		CreateJoinGrace: cfg.CreateJoinGrace,
		OperationGrace:  cfg.OperationGrace,
		Logger:          log.Named("client"),
		Recorder:        recorder,
	})
	defer func() { err = multierr.Append(err, c.Close()) }()

	p := newPlayer(c, f, log.Named("player"))
	p.observe()

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	if cfg.StatusAddr != "" {
		var lister statusapi.HistoryLister
		if store != nil {
			lister = store
		}
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           statusapi.SetupRoutes(c, lister, log.Named("status")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("status api listening", zap.String("addr", cfg.StatusAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return p.run(gctx)
	})

	return g.Wait()
}
