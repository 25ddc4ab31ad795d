package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/config"
	"dunning-service/internal/metrics"
	"dunning-service/internal/repository"
	"dunning-service/internal/scheduler"
	"dunning-service/internal/service"
	"dunning-service/internal/transport/auth"
	"dunning-service/internal/transport/rest"
	"dunning-service/internal/transport/websocket"
	"dunning-service/pkg/database/postgres"
	"dunning-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("config error", zap.Error(err))
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Development()})
	if err != nil {
		zap.NewExample().Fatal("logger init error", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Info("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := mustInitPostgres(log, cfg.Postgres)
	defer postgres.Close(db)

	redisClient := mustInitRedis(log, cfg.Redis)
	defer redisClient.Close()

	storageClient, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPrefix, cfg.ExternalURL)
	if err != nil {
		log.Fatal("storage init error", zap.Error(err))
	}
	var files clients.FileStore = storageClient
	if cfg.S3.Enabled {
		files = mustInitS3(ctx, log, cfg.S3)
	}

	wsHub := websocket.NewHub(cfg.WSOrigins...)
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	mail, err := clients.NewMailTransport(clients.MailConfig{
		Transport: cfg.Mail.Transport,
		From:      cfg.Mail.From,
		SMTP: clients.SMTPConfig{
			Host:        cfg.Mail.SMTP.Host,
			Port:        cfg.Mail.SMTP.Port,
			Username:    cfg.Mail.SMTP.Username,
			Password:    cfg.Mail.SMTP.Password,
			StartTLS:    cfg.Mail.SMTP.StartTLS,
			DialTimeout: cfg.Mail.SMTP.DialTimeout,
		},
		AMQP: clients.AMQPConfig{
			URL:        cfg.Mail.AMQP.URL,
			Exchange:   cfg.Mail.AMQP.Exchange,
			Queue:      cfg.Mail.AMQP.Queue,
			RoutingKey: cfg.Mail.AMQP.RoutingKey,
		},
	}, log)
	if err != nil {
		log.Fatal("mail transport init error", zap.Error(err))
	}
	if closer, ok := mail.(interface{ Close() }); ok {
		defer closer.Close()
	}
	log.Info("mail transport ready", zap.String("transport", mail.Name()))

	invoiceRepo := repository.NewInvoiceRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	reminderLogRepo := repository.NewReminderLogRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db)

	settingsSvc := service.NewSettingsService(settingsRepo, redisClient)

	var locker service.InvoiceLocker = service.NewKeyedMutex()
	if cfg.Reminders.LockBackend == "redis" {
		locker = clients.NewRedisLocker(redisClient, cfg.Reminders.LockTTL, cfg.Mail.SendTimeout+5*time.Second)
	}

	dispatcher := service.NewDispatcher(
		invoiceRepo,
		customerRepo,
		reminderLogRepo,
		settingsSvc,
		mail,
		locker,
		service.DispatcherConfig{
			MailFrom:    cfg.Mail.From,
			SendTimeout: cfg.Mail.SendTimeout,
			Location:    cfg.Location(),
		},
	).WithNotifier(wsClient).WithMetrics(metrics.Reminders())

	querySvc := service.NewReminderQueryService(invoiceRepo, reminderLogRepo, settingsSvc, cfg.Location())
	exportSvc := service.NewExportService(redisClient)
	reminderExportSvc := service.NewReminderExportService(reminderLogRepo, exportSvc, files, wsClient)

	sanctumMiddleware := auth.SanctumMiddleware(tokenRepo)

	handler := rest.NewHandler(
		dispatcher,
		dispatcher,
		querySvc,
		settingsSvc,
		reminderExportSvc,
		exportSvc,
		cfg.Reminders.CronSecret,
	)
	router := handler.InitRouterWithAuth(sanctumMiddleware)

	router.With(sanctumMiddleware).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetUserID(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		orgID, _ := auth.GetOrganizationID(r.Context())
		log.Debug("ws connected", zap.Int64("user_id", userID), zap.String("organization_id", orgID))
		wsHub.HandleWebSocket(w, r, userID, orgID)
	})

	// public root router; /files, /metrics and the cron trigger stay reachable without a token
	root := chi.NewRouter()
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	root.Get("/files/{file}", storageClient.ServeFile)
	root.Handle("/metrics", promhttp.Handler())
	root.Mount("/", router)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 30 * time.Second,
		// the cron endpoint runs the whole automatic pass inside the request
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var sched *scheduler.Scheduler
	if cfg.Reminders.CronEnabled {
		sched = scheduler.New(dispatcher, cfg.Location(), time.Hour)
		if err := sched.Schedule(cfg.Reminders.CronSchedule); err != nil {
			log.Fatal("scheduler init error", zap.Error(err))
		}
		sched.Start()
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	go storageClient.RunCleanup(ctx, 5*time.Minute, cfg.FilesMaxAge)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Error("HTTP server error", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("automatic reminder run did not stop in time")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// stops the websocket hub and the file cleanup
	cancel()

	log.Info("shutdown complete")
}

func mustInitPostgres(log *zap.Logger, cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatal("postgres init error", zap.Error(err))
	}
	return db
}

func mustInitRedis(log *zap.Logger, cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatal("redis init error", zap.Error(err))
	}
	return client
}

func mustInitS3(ctx context.Context, log *zap.Logger, cfg config.S3Config) *clients.S3Client {
	client, err := clients.NewS3Client(ctx, clients.S3Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
		URLTTL:          cfg.URLTTL,
	})
	if err != nil {
		log.Fatal("s3 init error", zap.Error(err))
	}
	return client
}
