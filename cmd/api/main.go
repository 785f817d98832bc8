package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"

	"github.com/renderowl/backend/internal/auth"
	"github.com/renderowl/backend/internal/automation"
	"github.com/renderowl/backend/internal/billing"
	"github.com/renderowl/backend/internal/config"
	"github.com/renderowl/backend/internal/deadletter"
	"github.com/renderowl/backend/internal/engine"
	"github.com/renderowl/backend/internal/handlers"
	"github.com/renderowl/backend/internal/ledger"
	"github.com/renderowl/backend/internal/metrics"
	"github.com/renderowl/backend/internal/middleware"
	"github.com/renderowl/backend/internal/queue"
	"github.com/renderowl/backend/internal/render"
	"github.com/renderowl/backend/internal/router"
	"github.com/renderowl/backend/internal/schema"
	"github.com/renderowl/backend/internal/webhooks"
	"github.com/renderowl/backend/internal/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadEnv(logger)
	qcfg := queue.FromEnv()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, qcfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	if err := schema.Apply(ctx, pool); err != nil {
		slog.Error("Schema apply failed", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Queue closures are set after the River client is created (breaks
	// the init cycle between services, workers, and the client).
	var clientMu sync.Mutex
	var riverClient *river.Client[pgx.Tx]
	getClient := func() *river.Client[pgx.Tx] {
		clientMu.Lock()
		defer clientMu.Unlock()
		if riverClient == nil {
			panic("river client not wired")
		}
		return riverClient
	}

	insertRender := func(ctx context.Context, tx pgx.Tx, jobID, priority string) (int64, error) {
		res, err := getClient().InsertTx(ctx, tx, workers.RenderArgs{JobID: jobID}, &river.InsertOpts{
			Queue:       queue.QueueRender,
			Priority:    riverPriority(priority),
			MaxAttempts: qcfg.Render.MaxAttempts,
		})
		if err != nil {
			return 0, err
		}
		return res.Job.ID, nil
	}
	cancelQueued := func(ctx context.Context, riverJobID int64) error {
		_, err := getClient().JobCancel(ctx, riverJobID)
		return err
	}
	enqueueDelivery := func(ctx context.Context, args webhooks.DeliveryArgs) error {
		_, err := getClient().Insert(ctx, args, &river.InsertOpts{
			Queue:       queue.QueueWebhook,
			MaxAttempts: qcfg.Webhook.MaxAttempts,
		})
		return err
	}
	enqueueRun := func(ctx context.Context, args automation.RunArgs) error {
		_, err := getClient().Insert(ctx, args, &river.InsertOpts{
			Queue:       queue.QueueAutomation,
			MaxAttempts: qcfg.Automation.MaxAttempts,
		})
		return err
	}
	enqueueUpload := func(ctx context.Context, args workers.YouTubeUploadArgs) error {
		_, err := getClient().Insert(ctx, args, &river.InsertOpts{
			Queue:       queue.QueueYouTube,
			MaxAttempts: qcfg.YouTube.MaxAttempts,
		})
		return err
	}

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Webhooks
	webhookRepo := webhooks.NewRepository(pool)
	dispatcher := webhooks.NewDispatcher(webhookRepo, enqueueDelivery, logger)

	// Render pipeline
	validator, err := render.NewInputValidator()
	if err != nil {
		slog.Error("Input validator init failed", "error", err)
		os.Exit(1)
	}
	renderRepo := render.NewRepository(pool)
	deadRepo := deadletter.NewRepository(pool)
	renderSvc := render.NewService(render.Deps{
		Store:        renderRepo,
		Ledger:       ledgerSvc,
		DeadLetters:  deadRepo,
		Events:       dispatcher,
		Stats:        collector,
		InsertRender: insertRender,
		CancelQueued: cancelQueued,
		Validator:    validator,
		Log:          logger,
	})
	replayRender := func(ctx context.Context, jobID string) error {
		_, err := renderSvc.ReplayJob(ctx, jobID)
		return err
	}

	// Automations
	automationRepo := automation.NewRepository(pool)
	registry := &periodicRegistry{get: getClient, maxAttempts: qcfg.Automation.MaxAttempts}
	scheduler := automation.NewScheduler(registry, enqueueRun, logger)

	// External collaborators
	renderFarm := engine.NewRenderClient(
		config.GetEnv("RENDER_ENGINE_URL", "http://localhost:9090"),
		config.GetEnvDuration("RENDER_ENGINE_TIMEOUT", 10*time.Minute))
	runner := engine.NewRunnerClient(
		config.GetEnv("AUTOMATION_RUNNER_URL", "http://localhost:9091"),
		config.GetEnvDuration("AUTOMATION_RUNNER_TIMEOUT", 5*time.Minute))

	// Workers, one per job class
	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewRenderWorker(renderSvc, renderFarm, logger))
	river.AddWorker(riverWorkers, workers.NewAutomationWorker(automationRepo, runner, dispatcher, logger))
	river.AddWorker(riverWorkers, workers.NewWebhookWorker(collector, logger))
	river.AddWorker(riverWorkers, workers.NewYouTubeWorker(youtubeTokens(ctx), logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			queue.QueueRender:     {MaxWorkers: qcfg.Render.MaxWorkers},
			queue.QueueAutomation: {MaxWorkers: qcfg.Automation.MaxWorkers},
			queue.QueueYouTube:    {MaxWorkers: qcfg.YouTube.MaxWorkers},
			queue.QueueWebhook:    {MaxWorkers: qcfg.Webhook.MaxWorkers},
		},
		Workers:     riverWorkers,
		RetryPolicy: queue.RetryPolicy{Base: qcfg.RetryBase},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	clientMu.Lock()
	riverClient = client
	clientMu.Unlock()

	// Recurring registrations are in-memory; rebuild them from the
	// enabled schedule-triggered automations on boot.
	autos, err := automationRepo.ListEnabledScheduled(ctx)
	if err != nil {
		slog.Error("Failed to load scheduled automations", "error", err)
		os.Exit(1)
	}
	for _, a := range autos {
		if _, err := scheduler.ScheduleAutomation(a, a.UserID); err != nil {
			slog.Error("Failed to reschedule automation", "automation_id", a.ID, "error", err)
		}
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo)
	authHandler := auth.NewHandler(authSvc, logger)

	stripeHandler := billing.NewWebhookHandler(ledgerSvc, os.Getenv("STRIPE_WEBHOOK_SECRET"), logger)

	apiRouter := router.New(router.Deps{
		Auth:            authHandler,
		Render:          handlers.NewRenderHandler(renderSvc, logger),
		Automations:     handlers.NewAutomationHandler(automationRepo, scheduler, logger),
		Webhooks:        handlers.NewWebhookEndpointHandler(webhookRepo, logger),
		Ops:             handlers.NewOpsHandler(queue.NewStatsReader(pool), deadRepo, ledgerSvc, enqueueUpload, replayRender, logger),
		BearerAuth:      middleware.BearerAuth(authSvc),
		SubmissionCheck: middleware.SubmissionCheck,
		StripeWebhook:   stripeHandler,
		Metrics:         metrics.Handler(),
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{config.GetEnv("CORS_ORIGIN", "http://localhost:3000")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start queue workers
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	running, err := workers.Start(runCtx, client, logger)
	if err != nil {
		slog.Error("Failed to start queue workers", "error", err)
		os.Exit(1)
	}

	serverAddr := "0.0.0.0:" + config.GetEnv("PORT", "8080")
	server := &http.Server{Addr: serverAddr, Handler: corsHandler}
	go func() {
		slog.Info("Starting HTTP server", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	<-runCtx.Done()
	slog.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := workers.Stop(shutdownCtx, running); err != nil {
		slog.Error("Worker shutdown failed", "error", err)
	}
}

// riverPriority maps the public priority names onto River's 1..4 scale,
// where 1 is the most urgent.
func riverPriority(priority string) int {
	switch priority {
	case "high":
		return 1
	case "low":
		return 3
	default:
		return 2
	}
}

// youtubeTokens builds the upload token source from the linked channel's
// OAuth refresh token. Uploads fail at work time if the grant is absent,
// consuming attempts like any other failure.
func youtubeTokens(ctx context.Context) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		ClientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	tok := &oauth2.Token{RefreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN")}
	return conf.TokenSource(ctx, tok)
}
