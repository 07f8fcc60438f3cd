// Package bootstrap builds the dependency graph from config.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"triage_server/adapter/out/cache"
	"triage_server/adapter/out/messaging"
	"triage_server/adapter/out/mongodb"
	"triage_server/adapter/out/persistence"
	"triage_server/adapter/out/provider"
	"triage_server/config"
	"triage_server/core/agent/llm"
	"triage_server/core/port/out"
	"triage_server/core/service/automation"
	"triage_server/core/service/classification"
	"triage_server/core/service/knowledge"
	"triage_server/core/service/report"
	"triage_server/core/service/response"
	"triage_server/core/service/ticket"
	"triage_server/infra/database"
	"triage_server/pkg/httputil"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Providers
	LLM      *llm.Client
	Gmail    *provider.GmailAdapter
	Calendar *provider.CalendarAdapter
	SuperOps *provider.SuperOpsAdapter

	// Stores
	Knowledge    *persistence.KnowledgeAdapter
	Interactions out.InteractionLog
	Publisher    out.InteractionPublisher
	LedgerStore  out.LedgerStore

	// Services
	Classifier classification.Classifier
	Matcher    *knowledge.Matcher
	Loader     *knowledge.Loader
	Tickets    *ticket.Service
	Composer   *response.Composer
	Ledger     *automation.Ledger
	Pipeline   *automation.Pipeline
	Loop       *automation.Loop
	Report     *report.Service
	Latency    *metrics.Registry

	// connectors are initialized by Loop.Start
	connectors []out.Connector
}

// NewDependencies opens every configured backend and wires the services.
// The returned cleanup closes them in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	log := logger.L()

	// Database (pgxpool for the vector store, sqlx for the interaction log)
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return fail(err)
		}
		deps.DB = db
		cleanups = append(cleanups, db.Close)

		sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })
	}

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return fail(err)
		}
		deps.Redis = rdb
		cleanups = append(cleanups, func() { _ = rdb.Close() })
	}

	if cfg.MongoDBURL != "" {
		mc, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return fail(err)
		}
		deps.MongoDB = mc
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mc.Disconnect(shutdownCtx)
		})
	}

	if err := deps.initProviders(ctx, log); err != nil {
		return fail(err)
	}
	if err := deps.initStores(log); err != nil {
		return fail(err)
	}
	if deps.Publisher != nil {
		cleanups = append(cleanups, func() { _ = deps.Publisher.Close() })
	}
	if err := deps.initServices(log); err != nil {
		return fail(err)
	}

	return deps, cleanup, nil
}

func (d *Dependencies) initProviders(ctx context.Context, log zerolog.Logger) error {
	cfg := d.Config

	if cfg.OpenAIAPIKey != "" {
		d.LLM = llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxTokens:      cfg.LLMMaxTokens,
			Temperature:    cfg.LLMTemperature,
			Timeout:        time.Duration(cfg.LLMTimeoutSec) * time.Second,
		})
	}

	creds := provider.GoogleCredentials{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
	}
	d.Gmail = provider.NewGmailAdapter(provider.GmailConfig{Credentials: creds}, log)
	d.connectors = append(d.connectors, d.Gmail)

	if len(cfg.CalendarIDs) > 0 {
		cal, err := provider.NewCalendarAdapter(ctx, provider.CalendarConfig{
			Credentials: creds,
			CalendarIDs: cfg.CalendarIDs,
		}, log)
		if err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
		d.Calendar = cal
	}

	httpCfg := httputil.TicketingClientConfig()
	if cfg.Ticketing.TimeoutSec > 0 {
		httpCfg.ResponseTimeout = time.Duration(cfg.Ticketing.TimeoutSec) * time.Second
	}
	d.SuperOps = provider.NewSuperOpsAdapter(provider.TicketingConfig{
		APIURL:            cfg.Ticketing.URL,
		APIKey:            cfg.Ticketing.APIKey,
		HTTPClient:        httputil.NewClient(httpCfg),
		RequestsPerSecond: cfg.Ticketing.RateLimitRPS,
	}, log)
	d.connectors = append(d.connectors, d.SuperOps)

	return nil
}

func (d *Dependencies) initStores(log zerolog.Logger) error {
	cfg := d.Config

	if d.DB != nil {
		d.Knowledge = persistence.NewKnowledgeAdapter(d.DB)
		d.connectors = append(d.connectors, d.Knowledge)
	}

	switch cfg.Automation.InteractionStore {
	case "mongodb":
		if d.MongoDB == nil {
			return fmt.Errorf("interaction store mongodb requires mongodb_url")
		}
		adapter := mongodb.NewInteractionAdapter(d.MongoDB.Database(cfg.MongoDBName))
		d.Interactions = adapter
		d.connectors = append(d.connectors, adapter)
	default:
		if d.SQLDB == nil {
			return fmt.Errorf("interaction store postgres requires database_url")
		}
		adapter := persistence.NewInteractionAdapter(d.SQLDB)
		d.Interactions = adapter
		d.connectors = append(d.connectors, adapter)
	}

	if len(cfg.KafkaBrokers) > 0 {
		d.Publisher = messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		d.Interactions = messaging.NewPublishingLog(d.Interactions, d.Publisher, log)
	}

	switch cfg.Automation.LedgerStore {
	case "redis":
		if d.Redis == nil {
			return fmt.Errorf("ledger store redis requires redis_url")
		}
		store := cache.NewRedisLedgerStore(d.Redis, cfg.Automation.LedgerTTL)
		d.LedgerStore = store
		d.connectors = append(d.connectors, store)
	case "interaction_log":
		d.LedgerStore = automation.NewInteractionLedgerStore(d.Interactions)
	}

	return nil
}

func (d *Dependencies) initServices(log zerolog.Logger) error {
	cfg := d.Config
	a := cfg.Automation

	var inference out.InferenceService
	if d.LLM != nil {
		inference = d.LLM
	}

	switch a.Classifier {
	case "llm":
		if inference == nil {
			return fmt.Errorf("classifier llm requires openai_api_key")
		}
		var opts []classification.LLMOption
		if a.LenientJSON {
			opts = append(opts, classification.WithLenientJSON())
		}
		d.Classifier = classification.NewLLMClassifier(inference, log, opts...)
	default:
		d.Classifier = classification.NewRuleClassifier()
	}

	if d.Knowledge != nil && d.LLM != nil {
		d.Matcher = knowledge.NewMatcher(d.LLM, d.Knowledge)
		d.Loader = knowledge.NewLoader(d.LLM, d.Knowledge, log)
	}

	ticketOpts := []ticket.Option{ticket.WithLocation(cfg.Location())}
	if d.Calendar != nil {
		ticketOpts = append(ticketOpts, ticket.WithAvailability(d.Calendar))
	}
	if a.ExtendedHours {
		ticketOpts = append(ticketOpts, ticket.WithExtendedHours())
	}
	d.Tickets = ticket.NewService(d.SuperOps, log, ticketOpts...)
	var composerOpts []response.Option
	if a.Replies == "llm" {
		if inference == nil {
			return fmt.Errorf("replies llm requires openai_api_key")
		}
		composerOpts = append(composerOpts, response.WithInference(inference))
	}
	d.Composer = response.NewComposer(a.TeamName, log, composerOpts...)

	d.Latency = metrics.NewRegistry(metrics.DefaultWindow)
	d.Ledger = automation.NewLedger(d.LedgerStore, log)
	d.Pipeline = automation.NewPipeline(automation.PipelineDeps{
		Classifier:   d.Classifier,
		Matcher:      d.Matcher,
		Tickets:      d.Tickets,
		Composer:     d.Composer,
		Inbox:        d.Gmail,
		Outbox:       d.Gmail,
		Interactions: d.Interactions,
		Ledger:       d.Ledger,
		Latency:      d.Latency,
	}, automation.PipelineConfig{
		KBThreshold:            a.KBThreshold,
		KBLimit:                a.KBLimit,
		AcknowledgeHumanReview: a.AcknowledgeHumanReview,
	}, log)

	d.Loop = automation.NewLoop(automation.LoopConfig{
		CheckInterval: a.CheckInterval,
		Window:        a.Window,
		BatchSize:     a.BatchSize,
	}, d.Gmail, d.Pipeline, d.Ledger, d.connectors, log)

	d.Report = report.NewService(d.Interactions, inference)
	return nil
}
