package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookmind/internal/analyzer"
	"bookmind/internal/apikeys"
	"bookmind/internal/cache"
	"bookmind/internal/config"
	"bookmind/internal/core"
	"bookmind/internal/embedding"
	"bookmind/internal/engine"
	"bookmind/internal/explain"
	"bookmind/internal/feedback"
	"bookmind/internal/ingest"
	"bookmind/internal/intent"
	"bookmind/internal/llm"
	"bookmind/internal/logger"
	"bookmind/internal/progress"
	"bookmind/internal/recommend"
	"bookmind/internal/scraper"
	"bookmind/internal/skillgap"
	"bookmind/internal/store"
)

var (
	cfgFile  string
	userName string
)

var rootCmd = &cobra.Command{
	Use:   "bookmind",
	Short: "bookmind saves web bookmarks and recommends them back when they matter.",
	Long: `bookmind is a personal knowledge recommendation tool. It scrapes and
analyzes the pages you save, then ranks them against whatever you are
working on right now, with a short reason for each suggestion.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger.SetLevel(cfg.App.LogLevel)
		return nil
	},
}

// Execute runs the root command; called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bookmind.yaml)")
	rootCmd.PersistentFlags().StringVar(&userName, "user", "default", "username to act as")
}

// app holds the wired service graph for one command invocation.
type app struct {
	cfg       *config.Config
	store     *store.Store
	cache     *cache.Cache
	keys      *apikeys.Registry
	llm       *llm.Client
	embedder  embedding.Engine
	scraper   *scraper.Scraper
	hub       *progress.Hub
	ingest    *ingest.Service
	intents   *intent.Analyzer
	learner   *feedback.Learner
	recommend *recommend.Orchestrator
	analyzer  *analyzer.Worker
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// newApp wires every service from configuration. The cache is optional:
// an unreachable redis degrades to cold-path behavior with a warning.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Get()

	st, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	var c *cache.Cache
	if cfg.Redis.URL != "" {
		c, err = cache.New(cfg.Redis.URL)
		if err == nil {
			if pingErr := c.Ping(ctx); pingErr != nil {
				logger.Warn("redis unreachable, running without cache", "error", pingErr.Error())
				c = nil
			}
		} else {
			logger.Warn("cache disabled", "error", err.Error())
			c = nil
		}
	}

	secret := cfg.App.SecretKey
	if secret == "" {
		// Key storage stays usable in dev setups without SECRET_KEY; the
		// derived cipher is then machine-independent, not secret.
		secret = "bookmind-dev-secret"
	}
	keys, err := apikeys.NewRegistry(st, secret, apikeys.Limits{
		PerMinute: cfg.Limits.PerMinute,
		PerDay:    cfg.Limits.PerDay,
		PerMonth:  cfg.Limits.PerMonth,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	llmClient := llm.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, keys, keys)

	var embedder embedding.Engine
	if cfg.Gemini.APIKey != "" {
		model := cfg.Gemini.EmbeddingModel
		embedder = embedding.NewLazy(func(ctx context.Context) (embedding.Engine, error) {
			return embedding.NewGenAIEngine(ctx, cfg.Gemini.APIKey, model)
		})
	} else {
		logger.Warn("no Gemini API key, embeddings use the local hash engine")
		embedder = embedding.NewLocalEngine()
	}

	sc := scraper.New(scraper.Config{
		RequestsPerHour: cfg.Scraper.RequestsPerHour,
		MinDelay:        config.Duration(cfg.Scraper.MinDelay, 0),
		MaxDelay:        config.Duration(cfg.Scraper.MaxDelay, 0),
		Timeout:         config.Duration(cfg.Scraper.Timeout, 0),
		StealthDomains:  cfg.Scraper.StealthDomains,
	})

	hub := progress.NewHub(c)
	ingestSvc := ingest.NewService(st, sc, embedder, c, hub, ingest.Config{
		QualityFloor: cfg.Ingest.QualityFloor,
		Concurrency:  cfg.Ingest.Concurrency,
	})

	intents := intent.New(llmClient, c, st)
	learner := feedback.NewLearner(st, c)
	orchestrator := recommend.NewOrchestrator(
		st, c, intents,
		engine.DefaultRegistry(embedder),
		learner,
		skillgap.New(st),
		explain.New(llmClient),
		recommend.Options{
			MaxResults:    cfg.Recommend.MaxResults,
			MinScore:      cfg.Recommend.MinScore,
			CandidateCap:  cfg.Recommend.CandidateCap,
			FastThreshold: cfg.Recommend.FastThreshold,
		})

	worker := analyzer.NewWorker(st, llmClient, c, analyzer.Config{
		Interval:  config.Duration(cfg.Analyzer.Interval, 0),
		BatchSize: cfg.Analyzer.BatchSize,
		Cooldown:  config.Duration(cfg.Analyzer.Cooldown, 0),
	})

	return &app{
		cfg: cfg, store: st, cache: c, keys: keys, llm: llmClient,
		embedder: embedder, scraper: sc, hub: hub, ingest: ingestSvc,
		intents: intents, learner: learner, recommend: orchestrator,
		analyzer: worker,
	}, nil
}

// currentUser resolves --user, creating the account on first use so the
// CLI works out of the box.
func (a *app) currentUser(ctx context.Context) (*core.User, error) {
	u, err := a.store.GetUserByUsername(ctx, userName)
	if err == nil {
		return u, nil
	}
	if !core.IsKind(err, core.KindNotFound) {
		return nil, err
	}
	logger.Info("creating user", "username", userName)
	return a.store.CreateUser(ctx, userName, userName+"@localhost", "", nil)
}
