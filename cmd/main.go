package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bazaarchat/chat-service/internal/cache"
	"github.com/bazaarchat/chat-service/internal/httpserver"
	"github.com/bazaarchat/chat-service/internal/realtime"
	"github.com/bazaarchat/chat-service/internal/repository"
	"github.com/bazaarchat/chat-service/internal/service"
	"github.com/bazaarchat/chat-service/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf(".env not loaded: %v", err)
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app/config")

	if err := viper.ReadInConfig(); err != nil {
		logrus.Fatalf("Failed to read config file: %v", err)
	}

	logger := logrus.New()
	logLevel := viper.GetString("logging.level")
	logFormat := viper.GetString("logging.format")

	switch logLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	dbHost := viper.GetString("database.host")
	dbPort := viper.GetInt("database.port")
	dbUser := viper.GetString("database.user")
	dbPassword := viper.GetString("database.password")
	dbName := viper.GetString("database.dbname")
	sslmode := viper.GetString("database.sslmode")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == 0 {
		dbPort = 5432
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "bazaarchat"
	}
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbUser, dbPassword, dbHost, dbPort, dbName, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	logger.Info("Connected to PostgreSQL database")

	chatRepo := repository.NewChatRepository(db)
	if err := chatRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize database tables: %v", err)
	}

	redisURL := viper.GetString("redis.url")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisOpt, err := goredis.ParseURL(redisURL)
	if err != nil {
		logger.Fatalf("Failed to parse redis url: %v", err)
	}
	redisClient := goredis.NewClient(redisOpt)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatalf("Failed to ping redis: %v", err)
	}
	cancelPing()
	logger.Info("Connected to Redis")

	asynqOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		logger.Fatalf("Failed to parse redis url for task queue: %v", err)
	}
	asynqClient := asynq.NewClient(asynqOpt)
	defer asynqClient.Close()

	hub := realtime.NewHub()
	defer hub.Close()
	bridge := realtime.NewBridge(redisClient, hub, logger)

	inboxTTL := viper.GetDuration("cache.inbox_ttl")
	inboxCache := cache.NewInboxCache(redisClient, inboxTTL, logger)

	enqueuer := worker.NewEnqueuer(asynqClient)
	chatService := service.NewChatService(chatRepo, bridge, enqueuer, inboxCache, logger)

	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	go func() {
		if err := bridge.Run(bridgeCtx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("Realtime bridge stopped")
		}
	}()

	inboxWorker := worker.New(asynqOpt, viper.GetInt("worker.concurrency"), inboxCache, logger)
	go func() {
		if err := inboxWorker.Run(); err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
	}()

	httpSrv := httpserver.New(chatService, hub, logger)

	port := viper.GetString("server.port")
	if port == "" {
		port = "8085"
	}
	host := viper.GetString("server.host")
	if host == "" {
		host = "0.0.0.0"
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(host, port),
		Handler: httpSrv.Router(),
	}

	go func() {
		logger.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	cancelBridge()
	inboxWorker.Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown timeout")
	} else {
		logger.Info("HTTP server exited gracefully")
	}

	logger.Info("Server exited")
}
