package main

import (
	"log"
	"net/http"

	"github.com/coldbrewhq/coldbrew/internal/auth"
	"github.com/coldbrewhq/coldbrew/internal/billing"
	"github.com/coldbrewhq/coldbrew/internal/config"
	"github.com/coldbrewhq/coldbrew/internal/crypto"
	"github.com/coldbrewhq/coldbrew/internal/database"
	"github.com/coldbrewhq/coldbrew/internal/emails"
	"github.com/coldbrewhq/coldbrew/internal/events"
	"github.com/coldbrewhq/coldbrew/internal/llm"
	"github.com/coldbrewhq/coldbrew/internal/profiles"
	"github.com/coldbrewhq/coldbrew/internal/prompts"
	"github.com/coldbrewhq/coldbrew/internal/research"
	"github.com/coldbrewhq/coldbrew/internal/search"
	"github.com/coldbrewhq/coldbrew/internal/server"
	"github.com/coldbrewhq/coldbrew/internal/subscription"
	"github.com/coldbrewhq/coldbrew/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	if cfg.Env == "development" {
		if err := database.SeedDevData(db); err != nil {
			logger.Warn("failed to seed dev data", "error", err)
		}
	}

	registry, err := prompts.LoadRegistry()
	if err != nil {
		log.Fatalf("failed to load prompt templates: %v", err)
	}
	logger.Info("Loaded prompt templates", "count", registry.Count())

	var cache *redis.Client
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		cache = redis.NewClient(opts)
	} else {
		logger.Warn("invalid redis URL, research cache disabled", "error", err)
	}

	var encryptor *crypto.KeyEncryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewKeyEncryptor(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("invalid ENCRYPTION_KEY: %v", err)
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set; user-supplied search keys will not be stored")
	}

	var publisher *events.Publisher
	if cache != nil {
		publisher = events.NewPublisherWithClient(cache)
	}

	completer := llm.NewClient(cfg.CompletionAPIURL, cfg.CompletionAPIKey, cfg.CompletionModel, cfg.StubMode)
	searcher := search.NewClient(cfg.SearchAPIURL, cfg.SearchAPIKey, cfg.StubMode)
	collector := research.NewCollector(searcher, cache, logger)

	gate := subscription.NewGate(db, cfg.FreeMonthlyLimit)
	svc := emails.NewService(db, completer, registry, publisher, logger)

	billingSvc := billing.NewService(db, billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceIDPro:    cfg.StripePriceIDPro,
		FrontendURL:   cfg.FrontendURL,
	}, logger)

	deps := server.Deps{
		Emails:   emails.NewHandler(svc, collector, gate, db, encryptor, logger),
		Profiles: profiles.NewHandler(db, encryptor, logger),
		Billing:  billingSvc,
		Verifier: auth.TrustedIdentifierVerifier{},
		Logger:   logger,
	}
	logger.Warn("auth: running with trusted bearer identifiers; front with a gateway that verifies sessions")

	stopWorker, err := worker.Start(cfg, db, gate)
	if err != nil {
		logger.Warn("maintenance worker unavailable", "error", err)
	} else {
		defer stopWorker()
	}

	stopScheduler, err := worker.StartScheduler(cfg)
	if err != nil {
		logger.Warn("maintenance scheduler unavailable", "error", err)
	} else {
		defer stopScheduler()
	}

	router := server.NewRouter(cfg, deps)

	logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal(err)
	}
}
