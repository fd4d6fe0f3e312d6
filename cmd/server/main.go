package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturoeanton/go-repo-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-repo-rag/internal/adapter/hosting"
	"github.com/arturoeanton/go-repo-rag/internal/adapter/store"
	"github.com/arturoeanton/go-repo-rag/internal/handler"
	"github.com/arturoeanton/go-repo-rag/internal/middleware"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
	"github.com/arturoeanton/go-repo-rag/internal/service"
	"github.com/arturoeanton/go-repo-rag/pkg/config"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	slog.Info("🚀 Starting RepoSage AI",
		"port", cfg.Port,
		"ai_provider", cfg.AIProvider,
		"github_api", cfg.GitHubAPIBase,
		"database", cfg.RedactedDatabaseURL(),
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	vectorStore := store.NewVectorStore(pgStore, cfg.EmbeddingDimension)

	// ── AI provider ──────────────────────────────────────────────────────
	var provider port.AIProvider
	switch cfg.AIProvider {
	case "openai":
		p, err := ai.NewOpenAIProvider(ai.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbeddingModel: cfg.OpenAIEmbedModel,
			ChatModel:      cfg.OpenAIChatModel,
		})
		if err != nil {
			slog.Error("failed to configure AI provider", "error", err)
			os.Exit(1)
		}
		provider = p
	default:
		provider = ai.NewOllamaProvider(
			ai.OllamaEndpointConfig{
				BaseURL: cfg.OllamaBaseURL,
				Model:   cfg.OllamaEmbedModel,
				Token:   cfg.OllamaToken,
			},
			ai.OllamaEndpointConfig{
				BaseURL: cfg.OllamaBaseURL,
				Model:   cfg.OllamaChatModel,
				Token:   cfg.OllamaToken,
			},
		)
	}

	githubProvider := hosting.NewGitHubProvider(cfg.GitHubAPIBase)

	// ── Rate limiters & executors ────────────────────────────────────────
	chatLimiter := ratelimit.NewLimiter(ratelimit.Limits{
		RequestsPerMinute: cfg.ChatRPM,
		CostPerMinute:     cfg.ChatTPM,
		AvgCostPerRequest: cfg.ChatAvgTokens,
	})
	embedLimiter := ratelimit.NewLimiter(ratelimit.Limits{RequestsPerMinute: cfg.EmbedRPM})
	githubLimiter := ratelimit.NewLimiter(ratelimit.Limits{RequestsPerMinute: cfg.GitHubRPM})

	chatExec := ratelimit.NewExecutor("chat", chatLimiter, cfg.RetryAttempts, cfg.ChatBaseDelay)
	embedExec := ratelimit.NewExecutor("embed", embedLimiter, cfg.RetryAttempts, cfg.EmbedBaseDelay)
	githubExec := ratelimit.NewExecutor("github", githubLimiter, cfg.RetryAttempts, time.Second)

	// ── Services ─────────────────────────────────────────────────────────
	crawler := service.NewCrawlerService(githubProvider, githubExec, service.CrawlerConfig{
		MaxFileBytes: cfg.MaxFileBytes,
		Concurrency:  cfg.CrawlConcurrency,
	})
	ingestService := service.NewIngestService(crawler, provider, chatExec, embedExec, vectorStore, service.IngestConfig{
		Workers:        cfg.IngestWorkers,
		MaxPromptChars: cfg.MaxPromptChars,
		CallTimeout:    cfg.CallTimeout,
	})
	commitService := service.NewCommitService(githubProvider, provider, githubExec, chatExec, pgStore, pgStore, service.CommitConfig{
		MaxCommits:  cfg.MaxCommits,
		Workers:     cfg.IngestWorkers,
		CallTimeout: cfg.CallTimeout,
	})
	answerService := service.NewAnswerService(provider, vectorStore, embedExec, chatExec, chatLimiter, service.AnswerConfig{
		TopK:            cfg.TopK,
		MaxAnswerTokens: cfg.MaxAnswerTokens,
		CallTimeout:     cfg.CallTimeout,
	})
	projectService := service.NewProjectService(pgStore, pgStore, crawler, ingestService, commitService)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "X-User-ID", "X-Github-Token"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(pgStore))

	// ── Public Routes ────────────────────────────────────────────────────
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": "1.0.0",
		})
	})

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group("/api/v1", middleware.UserMiddleware())

	jobTracker := handler.NewJobTracker()

	projectHandler := handler.NewProjectHandler(projectService, jobTracker)
	projectHandler.Register(api)

	answerHandler := handler.NewAnswerHandler(answerService, projectService)
	answerHandler.Register(api)

	jobsHandler := handler.NewJobsHandler(jobTracker)
	jobsHandler.Register(api)

	userHandler := handler.NewUserHandler(pgStore)
	userHandler.Register(api)

	auditHandler := handler.NewAuditHandler(pgStore)
	auditHandler.Register(api)

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
