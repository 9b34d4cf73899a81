package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kazi/internal/config"
	"kazi/internal/handlers"
	"kazi/internal/metrics"
	"kazi/internal/middleware"
	"kazi/internal/observability"
	"kazi/internal/scheduler"
	"kazi/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the HTTP API and the trigger scheduler",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OpenTelemetry 初始化（可选）
	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		log.Warnf("init tracing: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.Monitoring.Enabled {
		metrics.Register(prometheus.DefaultRegisterer)
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := services.NewWebSocketHub(log)
	go hub.Run(ctx)
	a.runner.OnLog(hub.PublishLog)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(a.gw, a.runner, log, cfg.Scheduler.ReloadInterval)
		if err := schedulePurge(sched, a.service, cfg, log); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           setupRouter(cfg, a, hub, sched),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited")
	return nil
}

// schedulePurge registers the history retention job.
func schedulePurge(sched *scheduler.Scheduler, svc *services.TriggerService, cfg *config.Config, log *logrus.Logger) error {
	days := cfg.History.RetentionDays
	if days <= 0 || cfg.History.PurgeSchedule == "" {
		return nil
	}
	err := sched.AddFunc(cfg.History.PurgeSchedule, func(ctx context.Context) {
		res, err := svc.PurgeHistory(ctx, days)
		if err != nil {
			log.Errorf("purge history: %v", err)
			return
		}
		log.WithFields(logrus.Fields{
			"executions": res.Executions,
			"logs":       res.Logs,
			"cutoff":     res.Cutoff,
		}).Info("history purged")
	})
	if err != nil {
		return fmt.Errorf("history.purge_schedule: %w", err)
	}
	return nil
}

func setupRouter(cfg *config.Config, a *app, hub *services.WebSocketHub, sched *scheduler.Scheduler) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(observability.ServiceName(cfg)))
	}
	router.Use(middleware.RateLimitMiddleware(cfg))

	// 健康检查
	health := handlers.NewHealthHandler(a.db, Version)
	health.AddCheck("feed", func(context.Context) handlers.ServiceInfo {
		return handlers.ServiceInfo{Status: "healthy", Details: map[string]interface{}{
			"clients": hub.GetClientCount(),
			"dropped": hub.Dropped(),
		}}
	})
	if sched != nil {
		health.AddCheck("scheduler", func(context.Context) handlers.ServiceInfo {
			return handlers.ServiceInfo{Status: "healthy", Details: map[string]interface{}{"entries": sched.Len()}}
		})
	}
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)

	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, handlers.MetricsHandler(prometheus.DefaultGatherer))
	}

	// API 路由组
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterTriggerRoutes(api, handlers.NewTriggerHandler(a.service, hub))

	return router
}
