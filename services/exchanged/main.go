package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"tokenexchange/config"
	"tokenexchange/core"
	"tokenexchange/core/events"
	"tokenexchange/core/genesis"
	"tokenexchange/core/state"
	"tokenexchange/crypto"
	"tokenexchange/internal/passphrase"
	"tokenexchange/observability"
	"tokenexchange/observability/logging"
	telemetry "tokenexchange/observability/otel"
	"tokenexchange/services/exchanged/journal"
	"tokenexchange/services/exchanged/node"
	feeds "tokenexchange/services/exchanged/oracle"
	"tokenexchange/services/exchanged/publisher"
	"tokenexchange/services/exchanged/server"
	"tokenexchange/storage"
)

// devGenesisBalance funds the operator on a fresh dev state: 1,000,000 native units.
var devGenesisBalance = uint256.MustFromDecimal("1000000000000000000000000")

type database interface {
	storage.Database
	Close()
}

func main() {
	var (
		cfgPath      string
		env          string
		allowMigrate bool
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to exchanged configuration file")
	flag.StringVar(&env, "env", "", "deployment environment label for logs and telemetry")
	flag.BoolVar(&allowMigrate, "allow-migrate", false, "allow upgrading an older state schema in place")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("exchanged: load config: %v", err)
	}
	if env = strings.TrimSpace(env); env == "" {
		env = cfg.Log.Env
	}
	logger := logging.SetupWithFile("exchanged", env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	telemetryCfg := telemetry.FromConfig(cfg.Telemetry)
	if telemetryCfg.Environment == "" {
		telemetryCfg.Environment = env
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("exchanged: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger, allowMigrate); err != nil {
		logger.Error("exchanged exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, allowMigrate bool) error {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	exec, err := core.NewExecutor(store)
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := state.EnsureStateVersion(exec.Trie(), allowMigrate); err != nil {
		return err
	}

	pass := passphrase.NewLabeledSource(cfg.Exchange.PassphraseEnv, "operator keystore")
	secret, err := pass.Get()
	if err != nil {
		return fmt.Errorf("operator passphrase: %w", err)
	}
	operator, created, err := crypto.LoadOrCreateKeystore(cfg.Exchange.OperatorKeystore, secret)
	if err != nil {
		return fmt.Errorf("operator keystore: %w", err)
	}
	if created {
		logger.Info("generated operator key",
			slog.String("address", operator.Address().Hex()),
			slog.String("keystore", cfg.Exchange.OperatorKeystore))
	}

	spec := genesis.DevSpec(devGenesisBalance, operator.Address())
	if path := strings.TrimSpace(cfg.Genesis.File); path != "" {
		if spec, err = genesis.LoadGenesisSpec(path); err != nil {
			return err
		}
		if err := spec.VerifyOperator(operator.Address()); err != nil {
			return err
		}
	}
	root, applied, err := genesis.Apply(spec, exec)
	if err != nil {
		return err
	}
	if applied {
		logger.Info("genesis applied", slog.String("root", root.Hex()))
	}

	// The oracle loop always needs a sample store; without a configured
	// journal it writes to a private in-memory one.
	journalDSN := journal.MemoryDSN("exchanged-" + uuid.NewString())
	if cfg.Journal.Enabled {
		journalDSN = cfg.Journal.DSN
	}
	jrnl, err := journal.Open(journalDSN)
	if err != nil {
		return err
	}
	defer jrnl.Close()
	var (
		receiptSink   node.ReceiptSink
		receiptReader server.ReceiptReader
	)
	if cfg.Journal.Enabled {
		receiptSink = jrnl
		receiptReader = jrnl
	}

	hub := server.NewHub(0)
	emitters := events.Multi{observability.Events().Emitter(), hub}
	if cfg.Kafka.Enabled() {
		kafka := publisher.NewKafkaPublisher(cfg.Kafka, logger)
		emitters = append(emitters, kafka)
		go func() {
			if err := kafka.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, publisher.ErrClosed) {
				logger.Error("kafka publisher stopped", slog.Any("error", err))
			}
		}()
		defer kafka.Close()
	}
	exec.SetEmitter(emitters)

	n, err := node.Bootstrap(ctx, exec, store, node.Options{
		Exchange: cfg.Exchange,
		Operator: operator.Address(),
		Logger:   logger,
		Receipts: receiptSink,
	})
	if err != nil {
		return err
	}

	pair, err := feeds.ParsePair(cfg.Oracle.Pair)
	if err != nil {
		return err
	}
	registry := feeds.NewRegistry()
	sources, err := registry.BuildAll(cfg.Oracle.Sources)
	if err != nil {
		return err
	}
	if cfg.Oracle.Enabled {
		mgr, err := feeds.New(jrnl, sources, []feeds.Pair{pair},
			cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds,
			feeds.WithLogger(log.Default()),
			feeds.WithPublisher(feeds.NewFeedPublisher(n, pair)))
		if err != nil {
			return fmt.Errorf("oracle manager: %w", err)
		}
		go func() {
			if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("oracle manager exited", slog.Any("error", err))
			}
		}()
	}

	adminSecret := cfg.Auth.HMACSecretValue(os.LookupEnv)
	logger.Info("admin auth configured",
		logging.MaskField("hmac_secret", adminSecret),
		slog.String("issuer", cfg.Auth.Issuer),
		slog.String("scope", cfg.Auth.AdminScope))

	srv := server.New(server.Config{
		Backend:  n,
		Receipts: receiptReader,
		Hub:      hub,
		Manual:   registry.Manual,
		Pair:     pair,
		Auth: server.AuthConfig{
			HMACSecret: adminSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		AdminScope:  cfg.Auth.AdminScope,
		RateLimit:   cfg.RateLimit,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      logger,
	})
	httpServer := srv.HTTPServer(cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("exchanged listening",
			slog.String("address", cfg.Server.ListenAddress),
			slog.String("proxy", n.Deployment().Proxy.Hex()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(cfg config.Storage) (database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		return storage.OpenLevelDB(cfg.Path, storage.LevelDBOptions{CacheMB: cfg.CacheMB, Handles: cfg.Handles})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
