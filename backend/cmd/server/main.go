package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/logger"
	"github.com/user/papertrade/backend/internal/portfolio"
	"github.com/user/papertrade/backend/internal/quote"
	"github.com/user/papertrade/backend/internal/trading"
	internalws "github.com/user/papertrade/backend/internal/websocket"
)

const (
	shutdownTimeout      = 10 * time.Second
	valuationParallelism = 4
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	directory, err := quote.LoadDirectory(cfg.SymbolsCSV, log)
	if err != nil {
		return err
	}

	hub := internalws.NewHub(log)
	go hub.Run(ctx)

	provider := newProvider(ctx, cfg, directory, hub, log)

	publishers := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafka.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing Kafka publisher")
			}
		}()
		publishers = append(publishers, kafka)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Publishing trades to Kafka")
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	engine := trading.NewEngine(store, provider, auth.BcryptHasher{}, publishers, trading.Config{StartingCash: cfg.StartingCash}, log)
	valuator := portfolio.NewValuator(store, provider, valuationParallelism, log)

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	handlers.New(engine, valuator, tokens, hub, store, log).Routes(app)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("Starting server")
		errCh <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	}
}

// openStore connects to the configured ledger database and applies the schema.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (database.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := database.OpenPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		s, err := database.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

func newProvider(ctx context.Context, cfg *config.Config, directory quote.Directory, hub *internalws.Hub, log zerolog.Logger) quote.Provider {
	if cfg.QuoteProvider == config.ProviderAlphaVantage {
		log.Info().Str("url", cfg.AlphaVantageURL).Msg("Using Alpha Vantage quotes")
		return quote.NewAlphaVantage(quote.AlphaVantageConfig{
			APIKey:    cfg.AlphaVantageAPIKey,
			BaseURL:   cfg.AlphaVantageURL,
			Timeout:   cfg.QuoteTimeout,
			CacheTTL:  cfg.QuoteCacheTTL,
			PerMinute: cfg.QuoteRatePerMinute,
			PerDay:    cfg.QuoteRatePerDay,
		}, directory, log)
	}

	market := quote.NewSimulated(quote.DefaultSeed(), directory, log)
	market.Start(ctx, cfg.SimulatedInterval)
	go hub.ListenPrices(ctx, market.Updates())
	return market
}
