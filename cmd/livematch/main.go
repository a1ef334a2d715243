package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/channel"
	appcfg "github.com/park285/Cheese-LiveMatch/internal/config"
	"github.com/park285/Cheese-LiveMatch/internal/journal"
	"github.com/park285/Cheese-LiveMatch/internal/livematch"
	"github.com/park285/Cheese-LiveMatch/internal/metaapi"
	"github.com/park285/Cheese-LiveMatch/internal/msgcat"
	"github.com/park285/Cheese-LiveMatch/internal/obslog"
	"github.com/park285/Cheese-LiveMatch/internal/results"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.MatchID == "" || cfg.LocalPlayerID == "" {
		log.Fatalf("config error: MATCH_ID and LOCAL_PLAYER_ID are required")
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L().With(zap.String("match_id", cfg.MatchID))
	defer func() { _ = logger.Sync() }()

	cat, err := msgcat.New(cfg.MessagesLang, cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages init error: %v", err)
	}

	// Seat the local player before opening the socket.
	api := metaapi.NewClient(cfg.MatchAPIURL,
		metaapi.WithBearer(cfg.AuthToken),
		metaapi.WithTimeout(cfg.RequestTimeout),
	)
	lctx, lcancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	players, err := api.GetPlayers(lctx, cfg.MatchID)
	lcancel()
	if err != nil {
		log.Fatalf("players lookup error: %v", err)
	}
	assignment, err := metaapi.ResolveAssignment(players, cfg.LocalPlayerID)
	if err != nil {
		log.Fatalf("seat error: %v", err)
	}
	whiteName, blackName := seatNames(players)

	mgr := channel.NewManager(cfg.MatchWSURL,
		channel.WithLogger(logger),
		channel.WithPingInterval(cfg.PingInterval),
	)
	mgr.OnStateChange(func(s channel.State) {
		logger.Info("channel_state", zap.String("state", string(s)))
	})

	client := livematch.NewClient(mgr, assignment,
		livematch.WithLogger(logger),
		livematch.WithTickInterval(cfg.ClockTick),
		livematch.WithRequestTimeout(cfg.RequestTimeout),
	)

	// Optional persistence sinks
	if cfg.RedisURL != "" {
		jctx, jcancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err := journal.NewStoreFromURL(jctx, cfg.RedisURL)
		jcancel()
		if err != nil {
			logger.Warn("journal_disabled", zap.Error(err))
		} else {
			defer store.Close()
			rec := store.Recorder(logger, 0)
			defer rec.Close()
			client.Observe(rec.Observe)
		}
	}
	if cfg.DatabaseURL != "" {
		repo, err := results.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("results_disabled", zap.Error(err))
		} else {
			defer repo.Close()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := repo.EnsureSchema(sctx); err != nil {
				logger.Warn("results_schema_error", zap.Error(err))
			}
			scancel()
			client.Observe(repo.Observer(whiteName, blackName, logger))
		}
	}

	out := &printer{cat: cat, w: os.Stdout}
	client.Observe(out.observe)

	fmt.Fprintln(os.Stdout, cat.Text("connection.connecting", nil))
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mgr.Connect(cctx, cfg.AuthToken); err != nil {
		ccancel()
		log.Fatalf("connect error: %v", err)
	}
	ccancel()

	sctx, scancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := client.Start(sctx, cfg.MatchID); err != nil {
		scancel()
		mgr.Disconnect()
		log.Fatalf("join error: %v", err)
	}
	scancel()
	out.joined(client.View(), assignment)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := handleCommand(context.Background(), client, out, line); quit {
				break loop
			}
		}
	}

	client.Leave()
	mgr.Disconnect()
}
