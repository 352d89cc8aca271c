package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"NeuroVault/internal/access"
	"NeuroVault/internal/config"
	"NeuroVault/internal/observability"
	"NeuroVault/internal/relay"
	"NeuroVault/internal/server"
	"NeuroVault/internal/store"
	"NeuroVault/internal/store/memory"
	"NeuroVault/internal/store/sqlstore"
	"NeuroVault/internal/token"
	"NeuroVault/internal/token/erc20"
	"NeuroVault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("VAULT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("vaultd", level)
	logger.Info().Str("store", cfg.Store.Driver).Str("token", cfg.Token.Driver).Msg("NeuroVault starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	st, err := openStore(ctx, cfg.Store, observability.NewLoggerWithLevel("store", level))
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()
	if p, ok := st.(interface{ Ping(context.Context) error }); ok {
		healthChecker.AddCheck("store", p.Ping)
	}

	// --- Token gateway ---
	tokens, closeTokens, err := buildTokens(ctx, cfg.Token, st, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("token gateway")
	}
	defer closeTokens()

	// --- Engine ---
	v := vault.New(st, tokens,
		vault.WithLogger(observability.NewLoggerWithLevel("vault", level)),
		vault.WithMetrics(metrics),
	)

	n, err := v.Recover(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("recover")
	}
	logger.Info().Int64("events", n).Msg("ledger recovered")

	if err := bootstrap(ctx, v, cfg.Bootstrap, logger); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}

	errChan := make(chan error, 10)

	// --- Relays ---
	sinks, err := openSinks(ctx, cfg.Relay, healthChecker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open relay sinks")
	}
	for _, sink := range sinks {
		defer sink.Close()
		r := relay.New(st, sink, relay.Options{
			BatchSize:    cfg.Relay.BatchSize,
			PollInterval: cfg.Relay.PollInterval,
		}, observability.NewLoggerWithLevel("relay", level), metrics)
		go func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("relay %s: %w", sink.Name(), err)
			}
		}()
	}

	// --- Transport ---
	verifier := access.NewVerifier(cfg.Auth.MaxRequestAge, cfg.Auth.ReplayCacheSize)
	svc := server.NewService(v, verifier, observability.NewLoggerWithLevel("api", level), metrics)
	srv := server.New(svc, server.Config{
		GRPCAddr:      cfg.Server.GRPCAddr,
		HTTPAddr:      cfg.Server.HTTPAddr,
		HealthChecker: healthChecker,
		Logger:        observability.NewLoggerWithLevel("server", level),
		Metrics:       metrics,
	})

	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()

	go func() {
		errChan <- srv.StartHTTPGateway(ctx)
	}()

	if cfg.Server.MetricsAddr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsServer := &http.Server{
				Addr:              cfg.Server.MetricsAddr,
				Handler:           metricsMux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				metricsServer.Shutdown(shutCtx)
			}()
			logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", n).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Int("relays", len(sinks)).
		Msg("NeuroVault ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()

	// Give servers their shutdown window before deferred closes run.
	time.Sleep(100 * time.Millisecond)
	logger.Info().Msg("NeuroVault shutdown complete")
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	if cfg.Driver == config.StoreMemory {
		logger.Warn().Msg("memory store: state is lost on exit")
		return memory.New(), nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	s, err := sqlstore.Open(ctx, dialect, cfg.DSN, sqlstore.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dialect", string(dialect)).Msg("store connected")

	if cfg.Migrate {
		if err := sqlstore.NewMigrator(s.DB(), dialect, logger).Up(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}
	return s, nil
}

func buildTokens(ctx context.Context, cfg config.TokenConfig, st store.Store, logger zerolog.Logger) (token.Resolver, func(), error) {
	contract := common.HexToAddress(cfg.Contract)
	reg := token.NewRegistry()

	switch cfg.Driver {
	case config.TokenBook:
		book := token.NewBook(contract, common.HexToAddress(cfg.Custody), cfg.Decimals)
		if err := fundBook(ctx, book, st, cfg.BookFunding, logger); err != nil {
			return nil, nil, err
		}
		reg.Register(contract, book)
		logger.Info().Str("contract", contract.Hex()).Uint8("decimals", cfg.Decimals).Msg("in-ledger token book")
		return reg, func() {}, nil

	case config.TokenERC20:
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.CustodyKey, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("custody key: %w", err)
		}
		var chainID *big.Int
		if cfg.ChainID > 0 {
			chainID = big.NewInt(cfg.ChainID)
		}
		gw, closeFn, err := erc20.Dial(ctx, cfg.RPCURL, erc20.Config{
			Contract:       contract,
			Key:            key,
			ChainID:        chainID,
			ConfirmTimeout: cfg.ConfirmTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		reg.Register(contract, gw)
		logger.Info().Str("contract", contract.Hex()).Str("custody", gw.Custody().Hex()).Msg("erc20 gateway connected")
		return reg, closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown token driver %q", cfg.Driver)
	}
}

// fundBook credits the configured holders on the first start against st.
func fundBook(ctx context.Context, book *token.Book, st store.Store, grants []config.BookGrant, logger zerolog.Logger) error {
	if len(grants) == 0 {
		return nil
	}
	gs := make([]token.Grant, len(grants))
	for i, g := range grants {
		gs[i] = token.Grant{Holder: common.HexToAddress(g.Holder), Amount: g.Amount}
	}
	applied, err := book.Fund(ctx, st, gs)
	if err != nil {
		return err
	}
	if applied {
		logger.Info().Int("holders", len(gs)).Msg("token book funded from config")
	} else {
		logger.Info().Msg("token book already funded, funding skipped")
	}
	return nil
}

// bootstrap initializes the vault with the owner as deployer. A vault that
// is already initialized is left as it is.
func bootstrap(ctx context.Context, v *vault.Vault, cfg config.BootstrapConfig, logger zerolog.Logger) error {
	if !cfg.Enabled() {
		return nil
	}
	owner := common.HexToAddress(cfg.Owner)
	_, err := v.Initialize(ctx, access.Trusted(owner), owner, common.HexToAddress(cfg.Agent), common.HexToAddress(cfg.Token))
	switch {
	case errors.Is(err, vault.ErrAlreadyInitialized):
		logger.Info().Msg("vault already initialized, bootstrap skipped")
		return nil
	case err != nil:
		return err
	}
	logger.Info().Str("owner", owner.Hex()).Str("agent", cfg.Agent).Msg("vault initialized from config")
	return nil
}

func openSinks(ctx context.Context, cfg config.RelayConfig, health *observability.HealthChecker, logger zerolog.Logger) ([]relay.Sink, error) {
	var sinks []relay.Sink
	fail := func(err error) ([]relay.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkNATS:
			nc, js, err := relay.ConnectNATS(cfg.NATSURL, logger)
			if err != nil {
				return fail(fmt.Errorf("nats connect: %w", err))
			}
			if err := relay.EnsureStream(ctx, js, logger); err != nil {
				nc.Close()
				return fail(fmt.Errorf("ensure NATS stream: %w", err))
			}
			health.AddCheck("nats", func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("nats disconnected")
				}
				return nil
			})
			sinks = append(sinks, relay.NewNATSSink(nc, js))

		case config.SinkAMQP:
			s, err := relay.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
			if err != nil {
				return fail(fmt.Errorf("amqp: %w", err))
			}
			sinks = append(sinks, s)

		case config.SinkRedis:
			s, err := relay.NewRedisSink(ctx, relay.RedisConfig{
				Address:  cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				Stream:   cfg.RedisStream,
				MaxLen:   cfg.RedisMaxLen,
			})
			if err != nil {
				return fail(fmt.Errorf("redis: %w", err))
			}
			sinks = append(sinks, s)
		}
		logger.Info().Str("sink", name).Msg("relay sink connected")
	}
	return sinks, nil
}
