package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/db"
	"github.com/tcprescott/sahabot2/handlers"
	"github.com/tcprescott/sahabot2/lifecycle"
	applog "github.com/tcprescott/sahabot2/logger"
	mw "github.com/tcprescott/sahabot2/middleware"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/notify"
	"github.com/tcprescott/sahabot2/racing"
	"github.com/tcprescott/sahabot2/reconcile"
	"github.com/tcprescott/sahabot2/rooms"
	"github.com/tcprescott/sahabot2/scheduler"
	"github.com/tcprescott/sahabot2/timeout"
)

func main() {
	cfg := config.Load()
	logger, err := applog.New(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	bdb := db.Setup(cfg)
	defer bdb.Close()

	if err := db.CreateTables(context.Background(), bdb); err != nil {
		logger.Fatal("create tables failed", zap.Error(err))
	}

	live := cfg.Live()
	races := db.NewRaceStore(bdb)
	tasks := db.NewTaskStore(bdb)
	runners := db.NewRunnerStore(bdb)
	audit := db.NewAuditStore(bdb)

	engine := lifecycle.NewEngine(races, audit, logger, func() lifecycle.Rules {
		return lifecycle.Rules{
			WarningLead:   live.WarningLead(),
			MaxPending:    live.MaxPending(),
			MaxInProgress: live.MaxInProgress(),
		}
	})

	client := racing.NewClient(cfg.RacingBaseURL, cfg.RacingToken, cfg.RacingTimeout)
	orchestrator := rooms.New(races, runners, client, live, logger)
	reconciler := reconcile.New(races, tasks, engine, client, runners, logger)
	enforcer := timeout.New(races, engine, notify.FromConfig(cfg, logger), live, logger)

	sched := scheduler.New(tasks, logger, func(t models.TaskType) time.Duration {
		switch t {
		case models.TaskTimeoutSweep:
			return live.SweepInterval()
		case models.TaskRoomPoll:
			return live.PollInterval()
		}
		return 0
	})
	sched.Register(models.TaskOpenRoom, func(ctx context.Context, task *models.ScheduledTask) error {
		payload, err := task.OpenRoomPayload()
		if err != nil {
			return err
		}
		err = orchestrator.Open(ctx, payload.RaceID)
		if errors.Is(err, rooms.ErrAlreadyHasRoom) {
			// A previous attempt got as far as linking the room.
			return nil
		}
		return err
	})
	sched.Register(models.TaskTimeoutSweep, func(ctx context.Context, _ *models.ScheduledTask) error {
		return enforcer.Sweep(ctx)
	})
	sched.Register(models.TaskRoomPoll, func(ctx context.Context, _ *models.ScheduledTask) error {
		linked, err := races.OpenRoomLinks(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, race := range linked {
			if err := reconciler.PollRoom(ctx, race); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.EnsureRecurring(ctx, models.TaskTimeoutSweep, live.SweepInterval()); err != nil {
		logger.Fatal("ensure timeout sweep task", zap.Error(err))
	}
	if err := sched.EnsureRecurring(ctx, models.TaskRoomPoll, live.PollInterval()); err != nil {
		logger.Fatal("ensure room poll task", zap.Error(err))
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	h := handlers.New(races, tasks, runners, engine, reconciler, orchestrator,
		live, logger, cfg.JWTKey(), cfg.RacingWebhookSecret)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				logger.Error("http request", fields...)
			case v.Status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"*", "Authorization"},
		AllowCredentials: true,
	}))

	// Public
	e.POST("/api/signin", h.Signin)
	e.POST("/racing/events", h.RacingEvents)

	// Protected – require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(cfg.JWTKey()))
	api.POST("/permalinks/:id/claim", h.Claim)
	api.GET("/races/:id", h.GetRace)
	api.POST("/races/:id/result", h.SubmitResult)
	api.POST("/races/:id/forfeit", h.Forfeit)
	api.POST("/races/:id/cancel", h.Cancel)
	api.POST("/races/:id/review", h.RequestReview)
	api.POST("/races/:id/review/resolve", h.ResolveReview)

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Port))
		if err := e.Start(cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	<-schedDone
}
