package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paygate/internal/common/database"
	"paygate/internal/common/events"
	"paygate/internal/common/nats"
	"paygate/internal/config"
	"paygate/internal/guard"
	"paygate/internal/payment"
	"paygate/internal/payment/authentication"
	"paygate/internal/payment/fraud"
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
	"paygate/internal/payment/promotion"
	"paygate/internal/payment/store"
	"paygate/internal/vault"
)

// paymentSubjects are the subjects the events stream captures
var paymentSubjects = []string{"events.payment.>"}

// app is the wired service graph shared by every command
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.DB
	nats   *nats.Client

	sessions    *payment.SessionService
	cards       *payment.CardPaymentService
	idempotency *guard.IdempotencyGuard
	vault       vault.CardVault

	// set only with memory coordination
	idempotencyStore *guard.MemoryStore
}

// coordination holds the components that are shared across replicas
type coordination struct {
	gate        guard.Gate
	idempotency guard.Store
	vault       vault.CardVault
	publisher   events.EventPublisher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	coord, err := a.coordination(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var keys payment.KeyGenerator = payment.NewULIDGenerator()
	if cfg.Payment.KeyFormat == "uuid" {
		keys = payment.UUIDGenerator{}
	}

	policy := cfg.Policy()
	fraudPolicy := cfg.FraudPolicy()
	catalog := store.NewCatalogStore(db, cfg.IssuerFallback())
	limits := store.NewLimitStore(db, cfg.Payment.MerchantDefaultLimit)

	a.sessions = payment.NewSessionService(store.NewSessionStore(db), coord.gate, keys, coord.publisher, policy, logger)
	a.cards = payment.NewCardPaymentService(payment.CardPaymentDeps{
		Sessions:  a.sessions,
		Payments:  store.NewPaymentStore(db),
		Bins:      catalog,
		Contracts: catalog,
		Validator: merchant.NewContractValidator(limits, policy),
		Limits:    limits,
		Fraud: fraud.NewEngine(logger,
			fraud.NewCountryRule(fraudPolicy),
			fraud.NewVelocityRule(fraudPolicy, fraud.NewWindowCounter(time.Minute)),
		),
		Installments:   installment.NewCalculator(),
		IssuerPolicies: catalog,
		Promotions:     catalog,
		Optimizer:      promotion.NewKnapsackOptimizer(),
		Vault:          coord.vault,
		Authentication: authentication.NewRouter(cfg.AuthPolicy(), authentication.WithURLs(cfg.Auth.ISPURL, cfg.Auth.ThreeDSURL)),
		Publisher:      coord.publisher,
		Policy:         policy,
		FingerprintKey: []byte(cfg.Payment.VaultKey),
	}, logger)
	a.sessions.OnExpire(a.cards.ReleaseExpired)
	a.idempotency = guard.NewIdempotencyGuard(coord.idempotency)
	a.vault = coord.vault

	return a, nil
}

func (a *app) coordination(ctx context.Context) (coordination, error) {
	if a.cfg.Coordination == config.CoordinationMemory {
		a.logger.Warn("using in-process coordination, run a single replica only")
		a.idempotencyStore = guard.NewMemoryStore(a.cfg.Payment.IdempotencyTTL)
		return coordination{
			gate:        guard.NewMemoryGate(a.cfg.Payment.GateTTL),
			idempotency: a.idempotencyStore,
			vault:       vault.NewMemoryVault(a.cfg.Payment.VaultTTL),
			publisher:   events.NopPublisher{},
		}, nil
	}

	client, err := nats.New(ctx, a.cfg.NATS, a.logger)
	if err != nil {
		return coordination{}, fmt.Errorf("connecting to nats: %w", err)
	}
	a.nats = client

	gates, err := client.EnsureKeyValue(ctx, nats.KeyValueConfig{
		Bucket:      a.cfg.Buckets.Gates,
		Description: "checkout session gates",
		TTL:         a.cfg.Payment.GateTTL,
	})
	if err != nil {
		return coordination{}, err
	}
	idempotency, err := client.EnsureKeyValue(ctx, nats.KeyValueConfig{
		Bucket:      a.cfg.Buckets.Idempotency,
		Description: "ready request idempotency keys",
		TTL:         a.cfg.Payment.IdempotencyTTL,
	})
	if err != nil {
		return coordination{}, err
	}
	vaultKV, err := client.EnsureKeyValue(ctx, nats.KeyValueConfig{
		Bucket:      a.cfg.Buckets.Vault,
		Description: "sealed card credentials",
		TTL:         a.cfg.Payment.VaultTTL,
	})
	if err != nil {
		return coordination{}, err
	}
	sealer, err := vault.NewSealer(a.cfg.Payment.VaultKey)
	if err != nil {
		return coordination{}, fmt.Errorf("vault key: %w", err)
	}

	if _, err := client.EnsureStream(ctx, nats.DefaultStreamConfig(a.cfg.Buckets.EventsStream, paymentSubjects)); err != nil {
		return coordination{}, err
	}

	return coordination{
		gate:        guard.NewKVGate(gates, a.logger),
		idempotency: guard.NewKVStore(idempotency),
		vault:       vault.NewKVVault(vaultKV, sealer, a.cfg.Payment.VaultTTL),
		publisher:   nats.NewPublisher(client, a.logger),
	}, nil
}

// healthCheck reports whether the database and broker are reachable
func (a *app) healthCheck(ctx context.Context) error {
	if err := a.db.HealthCheck(ctx); err != nil {
		return err
	}
	if a.nats != nil {
		return a.nats.HealthCheck()
	}
	return nil
}

// Close releases the broker and database connections
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	a.db.Close()
}

// mustLoadConfig loads configuration and its logger, exiting on failure
func mustLoadConfig() (*config.Config, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "failed to load configuration", err)
	}
	return cfg, setupLogger(cfg.LogLevel, cfg.LogFormat)
}

func mustNewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) *app {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "failed to start", err)
	}
	return a
}
