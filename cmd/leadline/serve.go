package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	dbpkg "github.com/leadlineai/leadline/internal/db"
	"github.com/leadlineai/leadline/internal/debounce"
	"github.com/leadlineai/leadline/internal/delivery"
	"github.com/leadlineai/leadline/internal/dispatch"
	"github.com/leadlineai/leadline/internal/engine"
	"github.com/leadlineai/leadline/internal/gateway"
	"github.com/leadlineai/leadline/internal/handlers"
	"github.com/leadlineai/leadline/internal/llm"
	"github.com/leadlineai/leadline/internal/logger"
	"github.com/leadlineai/leadline/internal/message"
	"github.com/leadlineai/leadline/internal/server"
	"github.com/leadlineai/leadline/internal/tenant"
)

func runServe() {
	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideDBTX,
			tenant.NewService,
			contact.NewService,
			message.NewService,
			provideConversationService,
			provideSummarySweeper,
			provideLLMClient,
			provideEngine,
			provideDeliveryQueue,
			provideDeliveryWorker,
			provideDispatcher,
			provideReplyClient,
			providePipeline,
			provideCoordinator,
			provideGatewayHandler,
			handlers.NewPingHandler,
			provideAuthHandler,
			provideActionsHandler,
			provideInspectHandler,
			server.NewServer,
		),
		fx.Invoke(
			startServer,
			startBackgroundJobs,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("service", "fx"))}
		}),
	)
	app.Run()
}

func provideConfig() (config.Config, error) {
	return config.Load(os.Getenv("CONFIG_PATH"))
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := dbpkg.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	log.Info("database pool ready",
		slog.String("host", cfg.Postgres.Host),
		slog.String("database", cfg.Postgres.Database),
	)
	return pool, nil
}

func provideDBTX(pool *pgxpool.Pool) dbpkg.DBTX {
	return pool
}

func provideConversationService(log *slog.Logger, db dbpkg.DBTX, cfg config.Config) *conversation.Service {
	return conversation.NewService(log, db, cfg.Debounce.SummaryStaleness())
}

func provideSummarySweeper(log *slog.Logger, conversations *conversation.Service, messages *message.Service) *conversation.Sweeper {
	return conversation.NewSweeper(log, conversations, messages)
}

func provideLLMClient(cfg config.Config) *llm.Client {
	return llm.NewClient(cfg.Reasoning)
}

func provideEngine(log *slog.Logger, client *llm.Client) *engine.Engine {
	return engine.New(log, client)
}

func provideDeliveryQueue(log *slog.Logger, db dbpkg.DBTX, cfg config.Config) *delivery.Queue {
	return delivery.NewQueue(log, db, cfg.Delivery.Attempts())
}

func provideDeliveryWorker(log *slog.Logger, queue *delivery.Queue, tenants *tenant.Service, cfg config.Config) *delivery.Worker {
	return delivery.NewWorker(log, queue, tenants, cfg.Delivery)
}

func provideDispatcher(log *slog.Logger, tenants *tenant.Service, contacts *contact.Service, queue *delivery.Queue) *dispatch.Dispatcher {
	return dispatch.New(log, tenants, contacts, queue)
}

func provideReplyClient(log *slog.Logger, cfg config.Config) *gateway.ReplyClient {
	return gateway.NewReplyClient(log, cfg.Gateway)
}

func providePipeline(log *slog.Logger, e *engine.Engine, tenants *tenant.Service, contacts *contact.Service, conversations *conversation.Service, messages *message.Service, dispatcher *dispatch.Dispatcher, replies *gateway.ReplyClient) *engine.Pipeline {
	return engine.NewPipeline(log, e, tenants, contacts, conversations, messages, dispatcher, replies)
}

func provideCoordinator(lc fx.Lifecycle, log *slog.Logger, messages *message.Service, pipeline *engine.Pipeline) *debounce.Coordinator {
	coordinator := debounce.NewCoordinator(log, messages, pipeline)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			coordinator.Stop()
			return nil
		},
	})
	return coordinator
}

func provideGatewayHandler(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, tenants *tenant.Service, contacts *contact.Service, messages *message.Service, coordinator *debounce.Coordinator) *gateway.Handler {
	h := gateway.NewHandler(log, cfg, tenants, contacts, messages, coordinator)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			h.Wait()
			return nil
		},
	})
	return h
}

func provideAuthHandler(log *slog.Logger, tenants *tenant.Service, cfg config.Config) *handlers.AuthHandler {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return handlers.NewAuthHandler(log, tenants, cfg.Auth.JWTSecret, expiresIn)
}

func provideActionsHandler(log *slog.Logger, tenants *tenant.Service, contacts *contact.Service, conversations *conversation.Service, dispatcher *dispatch.Dispatcher) *handlers.ActionsHandler {
	return handlers.NewActionsHandler(log, tenants, contacts, conversations, dispatcher)
}

func provideInspectHandler(log *slog.Logger, contacts *contact.Service, conversations *conversation.Service, messages *message.Service, queue *delivery.Queue) *handlers.InspectHandler {
	return handlers.NewInspectHandler(log, contacts, conversations, messages, queue)
}

func startServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *slog.Logger, srv *server.Server, tenants *tenant.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureOperator(ctx, log, tenants, cfg.Admin); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			log.Info("server listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// ensureOperator bootstraps the first operator account so the dashboard is
// reachable on a fresh install.
func ensureOperator(ctx context.Context, log *slog.Logger, tenants *tenant.Service, admin config.AdminConfig) error {
	count, err := tenants.CountOperators(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if admin.Password == "change-your-password-here" {
		log.Warn("bootstrap operator uses the placeholder password, change it",
			slog.String("username", admin.Username))
	}
	return tenants.CreateOperator(ctx, admin.Username, admin.Password)
}

func startBackgroundJobs(lc fx.Lifecycle, cfg config.Config, log *slog.Logger, worker *delivery.Worker, sweeper *conversation.Sweeper) {
	c := cron.New()
	c.Schedule(cron.Every(cfg.Delivery.Interval()), cron.FuncJob(func() {
		if err := worker.RunOnce(context.Background()); err != nil {
			log.Error("delivery run failed", slog.Any("error", err))
		}
	}))
	c.Schedule(cron.Every(cfg.Debounce.SummaryStaleness()), cron.FuncJob(func() {
		if err := sweeper.RunOnce(context.Background()); err != nil {
			log.Error("summary sweep failed", slog.Any("error", err))
		}
	}))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			log.Info("background jobs scheduled",
				slog.Duration("delivery_interval", cfg.Delivery.Interval()),
				slog.Duration("summary_interval", cfg.Debounce.SummaryStaleness()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}
