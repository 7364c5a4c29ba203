package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	_ "github.com/mkrivan/go-auth-api/docs" // Swagger docs (generated)
	"github.com/mkrivan/go-auth-api/internal/auth"
	"github.com/mkrivan/go-auth-api/internal/config"
	"github.com/mkrivan/go-auth-api/internal/database"
	"github.com/mkrivan/go-auth-api/internal/email"
	httpServer "github.com/mkrivan/go-auth-api/internal/http"
	"github.com/mkrivan/go-auth-api/internal/logging"
	"github.com/mkrivan/go-auth-api/internal/oauth"
	"github.com/mkrivan/go-auth-api/internal/ratelimit"
	"github.com/mkrivan/go-auth-api/internal/user"
)

// @title           Go Auth API
// @version         1.0
// @description     Session lifecycle service with rotating single-use refresh tokens, email verification and federated login.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"token_codec", cfg.Auth.Codec,
		"refresh_ledger", cfg.Auth.RefreshLedger,
	)

	// Initialize database connection
	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize token codec
	codec, err := auth.NewCodec(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	// Initialize repositories and ledgers
	userRepo := user.NewRepository(db)

	var refreshLedger auth.RefreshLedger
	switch cfg.Auth.RefreshLedger {
	case "redis":
		refreshLedger = auth.NewRedisRepository(redisClient, codec, cfg.Auth.RefreshTokenDuration)
	default:
		refreshLedger = auth.NewRepository(db, codec)
	}

	verificationRepo := auth.NewVerificationRepository(db)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(redisClient)

	// Initialize email service
	emailService := email.NewService(cfg.Email)

	// Initialize federated identity providers
	providers := oauth.NewRegistry(cfg.OAuth, cfg.Server.URL)

	// Initialize auth service
	authService := auth.NewService(
		userRepo,
		refreshLedger,
		verificationRepo,
		auth.NewIdentityLinker(userRepo),
		codec,
		auth.NewHasher(),
		emailService,
		logger,
	)

	// Initialize HTTP handlers
	cookies := auth.NewCookieManager(
		cfg.Auth.RefreshCookieName,
		!cfg.Server.IsDevelopment(), // secure cookies outside dev
		cfg.Auth.RefreshTokenDuration,
	)
	authHandler := auth.NewHandler(
		authService,
		providers,
		rateLimiter,
		cookies,
		logger,
		!cfg.Server.IsDevelopment(), // isProduction
	)
	authMiddleware := auth.NewMiddleware(codec, refreshLedger, cookies)

	// Initialize router
	router := httpServer.NewRouter(cfg, authHandler, authMiddleware, logger)

	// Initialize HTTP server
	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return database.NewBunDB(sqlDB), nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
