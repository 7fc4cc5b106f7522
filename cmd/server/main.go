package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/alertd/internal/bus"
	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/ingress"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
	"github.com/t77yq/alertd/internal/notify"
	"github.com/t77yq/alertd/internal/storage"
)

func main() {
	configDir := flag.String("config", "./config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	nc, err := connectNATS(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	db, err := storage.Open(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer db.Close()

	rules := storage.NewSQLiteRuleStore(logger, db)
	alerts := storage.NewSQLiteAlertStore(logger, db)
	notifications := storage.NewSQLiteNotificationStore(logger, db)

	dispatcher := notify.NewDispatcher(logger, notifications, cfg.Notify.Timeout)
	registerSenders(dispatcher, cfg, logger)

	eventBus := bus.New(logger, cfg.Engine.EventBuffer)
	defer eventBus.Close()

	if cfg.NATS.BridgeEvents {
		bridge, err := bus.NewJetStreamBridge(js, logger)
		if err != nil {
			logger.Fatal("Failed to create event bridge", zap.Error(err))
		}
		bridge.Start(eventBus)
		defer bridge.Stop()
	}

	source, err := ingress.NewNATSSource(js, logger)
	if err != nil {
		logger.Fatal("Failed to create metric ingress", zap.Error(err))
	}

	engine := monitor.NewEngine(logger, monitor.Deps{
		Rules:         rules,
		Alerts:        alerts,
		Notifications: notifications,
		Notifier:      dispatcher,
		Bus:           eventBus,
		Source:        source,
	}, monitor.Options{
		SweepInterval:     cfg.Engine.SweepInterval,
		RefreshInterval:   cfg.Engine.RefreshInterval,
		AnomalyWindowSize: cfg.Engine.AnomalyWindowSize,
		AnomalyMaxWindows: cfg.Engine.AnomalyMaxWindows,
		SeriesCapacity:    cfg.Engine.SeriesCapacity,
		SeriesMaxAge:      cfg.Engine.SeriesMaxAge,
	})

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	var collector *ingress.HostCollector
	if cfg.Collector.Enabled {
		collector = ingress.NewHostCollector(ingress.NewPublisher(js, logger), cfg.Collector.Interval, cfg.Collector.Scope, logger)
		collector.Start(ctx)
	}

	go logEvents(ctx, engine.Subscribe(), logger)

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if collector != nil {
		collector.Stop()
	}
	if err := engine.Stop(); err != nil {
		logger.Warn("Failed to stop engine", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to stop metrics server", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All notifications delivered")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached, some notifications may not have completed")
	}

	logger.Info("Server shutting down gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

func registerSenders(d *notify.Dispatcher, cfg *config.Config, logger *zap.Logger) {
	d.Register(notify.NewWebhookSender(logger))
	d.Register(notify.NewSlackSender(logger))

	if cfg.Notify.Email.Host != "" {
		d.Register(notify.NewEmailSender(logger, cfg.Notify.Email))
	}
	if cfg.Notify.SMS.BaseURL != "" {
		d.Register(notify.NewSMSSender(logger, cfg.Notify.SMS))
	}
	if cfg.Notify.Telegram.Token != "" {
		sender, err := notify.NewTelegramSender(logger, cfg.Notify.Telegram.Token, "")
		if err != nil {
			logger.Error("Telegram notifications disabled", zap.Error(err))
		} else {
			d.Register(sender)
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// logEvents writes every lifecycle event to the log until ctx is done
func logEvents(ctx context.Context, sub *bus.Subscription, logger *zap.Logger) {
	defer sub.Close()
	logger = logger.Named("events")

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			fields := []zap.Field{
				zap.String("type", string(evt.Type)),
				zap.String("alert_id", evt.Instance.ID),
				zap.String("rule_id", evt.Instance.RuleID),
				zap.String("status", string(evt.Instance.Status)),
			}
			if evt.Type == model.EventAlertTriggered {
				fields = append(fields, zap.String("severity", string(evt.Instance.Severity)))
			}
			logger.Info("Alert lifecycle event", fields...)
		}
	}
}
