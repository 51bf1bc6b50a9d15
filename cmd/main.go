package main

import (
	"auth-gateway/config"
	_ "auth-gateway/docs"
	"auth-gateway/internal/handler"
	"auth-gateway/internal/metrics"
	"auth-gateway/internal/ports"
	"auth-gateway/internal/repository"
	"auth-gateway/internal/security"
	"auth-gateway/internal/service"
	"context"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// @title Auth-gateway
// @version 1.0
// @description REST API выдачи и ротации токенов доступа

// @host localhost:8080

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := "config.yaml"
	if v := os.Getenv("AUTH_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	db, err := config.SetupDatabase(cfg.DatabaseConfig.DSN)
	if err != nil {
		log.Fatalf("Не удалось подключиться к БД: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Ошибка при закрытии БД: %v", err)
		}
	}()

	if cfg.DatabaseConfig.MigrateOnStart {
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Ошибка миграций: %v", err)
		}
	}

	var tokenStore ports.RefreshTokenStore
	switch cfg.Session.TokenStore {
	case config.TokenStoreRedis:
		redisClient, err := config.SetupRedis(&cfg.RedisConfig)
		if err != nil {
			log.Fatalf("Ошибка подключения к Redis: %v", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("Ошибка при закрытии Redis: %v", err)
			}
		}()
		tokenStore = repository.NewRedisRefreshTokenRepository(redisClient, cfg.RedisConfig.Prefix)
	case config.TokenStoreMemory:
		log.Println("refresh-токены хранятся в памяти процесса и не переживут рестарт")
		tokenStore = repository.NewMemoryRefreshTokenRepository()
	default:
		tokenStore = repository.NewRefreshTokenRepository(db)
	}
	log.Printf("хранилище refresh-токенов: %s", cfg.Session.TokenStore)

	srv, router := config.SetupServer(cfg.ServerAddr)

	userRepo := repository.NewUserRepository(db)

	jwtService, err := security.NewJWTService(&cfg.JWT)
	if err != nil {
		log.Fatalf("Ошибка настройки JWT: %v", err)
	}

	auditSink := setupAuditSink(ctx, cfg)
	defer auditSink.Close()

	authService := service.NewAuthenticationService(userRepo, tokenStore, jwtService, &cfg.Session,
		service.WithAuditSink(auditSink))
	authHandler := handler.NewAuthenticationHandler(authService)

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Instrument)

	router.Get("/swagger/*", httpSwagger.WrapHandler)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	trustedProxies, err := cfg.RateLimit.TrustedProxyNets()
	if err != nil {
		log.Fatalf("Ошибка настройки лимитера: %v", err)
	}
	limiter := security.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, trustedProxies...)
	go limiter.Cleanup(ctx)

	router.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.RateLimit.Enabled {
				r.Use(limiter.Middleware)
			}
			r.Post("/login", authHandler.Login)
			r.Post("/refresh-token", authHandler.RefreshToken)
		})
		r.Group(func(r chi.Router) {
			r.Use(security.JWTMiddleware(jwtService))
			r.Post("/logout", authHandler.Logout)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Post("/revoke-all", authHandler.RevokeAll)
			r.Get("/me", authHandler.GetCurrentUser)
			r.Head("/me", authHandler.GetCurrentUserHead)
		})
	})

	runServer(ctx, srv)
}

// setupAuditSink : лог всегда, S3 при audit.s3_enabled. Запись идёт в фоне
func setupAuditSink(ctx context.Context, cfg *config.AppConfig) *service.AsyncAuditSink {
	sinks := service.MultiAuditSink{service.LogAuditSink{}}

	if cfg.Audit.S3Enabled {
		s3Service, err := service.NewS3Service(ctx, &cfg.Audit.S3)
		if err != nil {
			log.Fatalf("Ошибка создания S3 сервиса: %v", err)
		}
		sinks = append(sinks, service.NewS3AuditSink(s3Service, cfg.Audit.S3.Prefix))
	}

	return service.NewAsyncAuditSink(sinks, 1024, 5*time.Second)
}

func runServer(ctx context.Context, server *http.Server) {
	serverErrors := make(chan error, 1)
	go func() {
		log.Println("сервер запущен на " + server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("ошибка работы сервера: %v", err)
		}
	case sig := <-signalChannel:
		log.Printf("получен сигнал %v остановки работы сервера ", sig)
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutDownCancel()

	if err := server.Shutdown(shutDownCtx); err != nil {
		log.Printf("ошибка при остановке сервера: %v", err)
	} else {
		log.Println("Сервер успешно остановлен")
	}
}
