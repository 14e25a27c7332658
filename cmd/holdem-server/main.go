package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lox/holdemtable/internal/config"
	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/events"
	"github.com/lox/holdemtable/internal/server"
	"github.com/lox/holdemtable/internal/session"
	"github.com/lox/holdemtable/internal/store"
)

var CLI struct {
	Config   string `short:"c" default:"holdem-server.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" help:"Listen address host:port (overrides config)"`
	LogLevel string `short:"l" help:"Log level (overrides config)"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("holdem-server"),
		kong.Description("Authoritative Texas Hold'em table server"))

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		kctx.Exit(1)
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		kctx.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	level, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		kctx.Exit(1)
	}
	logger.SetLevel(level)

	addr := cfg.ListenAddr()
	if CLI.Addr != "" {
		addr = CLI.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, addr, logger); err != nil {
		logger.Error("Server failed", "error", err)
		kctx.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, addr string, logger *log.Logger) error {
	gateway, history, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher := events.Publisher(events.Nop{})
	if cfg.Events.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			return err
		}
		publisher = p
	}
	defer func() { _ = publisher.Close() }()

	sessions, err := session.NewManager(session.Options{
		Secret: []byte(cfg.Server.TokenSecret),
		Grace:  config.Duration(cfg.Server.ReconnectGrace),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	writer := store.NewWriter(gateway, logger, store.WriterOptions{})
	reg, err := engine.NewRegistry(engine.Options{
		Logger:          logger,
		Sessions:        sessions,
		Store:           gateway,
		Writer:          writer,
		Publisher:       publisher,
		DecisionTimeout: config.Duration(cfg.Server.DecisionTimeout),
		ReserveTTL:      config.Duration(cfg.Server.ReserveTTL),
		AutoStart:       cfg.Server.AutoStart,
		NextHandDelay:   config.Duration(cfg.Server.NextHandDelay),
	})
	if err != nil {
		return err
	}

	specs, err := cfg.TableSpecs()
	if err != nil {
		return err
	}
	if err := reg.RestoreAll(ctx, specs); err != nil {
		reg.Close()
		return err
	}

	srv := server.New(reg, server.Options{
		Logger:     logger,
		HarnessKey: cfg.Server.HarnessKey,
		History:    history,
	})

	logger.Info("Starting holdem server", "addr", addr, "tables", len(specs),
		"storage", cfg.Storage.Driver, "events", cfg.Events.AMQPURL != "")

	// The writer outlives the registry so the final commits are flushed.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, addr) })
	g.Go(func() error { return writer.Run(writerCtx) })
	g.Go(func() error {
		<-gctx.Done()
		reg.Close()
		stopWriter()
		return nil
	})
	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

// openStore builds the configured gateway, wrapped in a Redis read-through
// cache when an address is set. history is non-nil only for MySQL.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Gateway, server.HistoryReader, func(), error) {
	var (
		gateway store.Gateway
		history server.HistoryReader
		closers []func()
	)
	switch cfg.Storage.Driver {
	case config.DriverMySQL:
		db, err := store.OpenMySQL(ctx, cfg.Storage.MySQLDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		gateway, history = db, db
		closers = append(closers, func() { _ = db.Close() })
	case config.DriverMemory:
		gateway = store.NewMemoryStore()
	default:
		files, err := store.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, nil, err
		}
		gateway = files
	}

	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		gateway = store.NewRedisCache(client, gateway, config.Duration(cfg.Storage.RedisTTL), logger)
		closers = append(closers, func() { _ = client.Close() })
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return gateway, history, closeAll, nil
}
