package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bookstore-auth/internal/auth"
	"bookstore-auth/internal/botcheck"
	"bookstore-auth/internal/config"
	"bookstore-auth/internal/db"
	"bookstore-auth/internal/httpsession"
	"bookstore-auth/internal/krypto"
	"bookstore-auth/internal/mail"
	"bookstore-auth/internal/maintenance"
	"bookstore-auth/internal/observability"
	"bookstore-auth/internal/profile"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger("bookstore-auth")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	sessions, closeSessions, err := buildSessionStore(cfg, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	box, err := krypto.NewBox([]byte(cfg.CardEncryptionKey))
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init card encryption: %w", err)
	}

	authRepo := auth.NewRepository(database)
	authService, err := auth.NewService(authRepo, auth.BcryptHasher{}, auth.Options{
		MinPasswordAge:   cfg.MinPasswordAge,
		MaxPasswordAge:   cfg.MaxPasswordAge,
		LockoutThreshold: cfg.LoginMaxAttempts,
		LockoutWindow:    cfg.LoginLockWindow,
		ResetTokenTTL:    cfg.ResetTokenTTL,
		ResetSecret:      []byte(cfg.SessionSecret),
		TOTPIssuer:       cfg.TOTPIssuer,
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	profileService := profile.NewService(profile.NewRepository(database), box)
	profileHandler := profile.NewHandler(profileService, logger)

	var mailer auth.MailSender
	if cfg.MailConfigured() {
		mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		mailer = mail.NewLogSender(logger)
	}

	bots := botcheck.NewClient(cfg.CaptchaSecret, cfg.CaptchaMinScore)

	authHandler := auth.NewHandler(authService, sessions, mailer, bots, profileService, logger, cfg.BaseURL, cfg.SecureCookies)
	sessionMW := auth.NewMiddleware(authService, sessions, logger, cfg.SecureCookies)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
	cleanupHandler := maintenance.NewCleanupHandler(authRepo, logger, cfg.CronSecret, cfg.AuditRetention, cfg.CleanupBatchSize)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/2fa", authHandler.SecondFactor)
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /auth/password/forgot", authHandler.ForgotPassword)
	mux.HandleFunc("POST /auth/password/reset", authHandler.ResetPassword)
	mux.Handle("POST /auth/password/change", sessionMW.RequireAccount(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /auth/2fa/enroll", sessionMW.RequireAccount(http.HandlerFunc(authHandler.BeginTwoFactor)))
	mux.Handle("POST /auth/2fa/confirm", sessionMW.RequireAccount(http.HandlerFunc(authHandler.ConfirmTwoFactor)))
	mux.Handle("POST /auth/2fa/disable", sessionMW.RequireAccount(http.HandlerFunc(authHandler.DisableTwoFactor)))
	mux.Handle("GET /auth/audit", sessionMW.RequireAccount(http.HandlerFunc(authHandler.AuditLog)))
	mux.Handle("GET /me", sessionMW.RequireAccount(http.HandlerFunc(profileHandler.Me)))
	mux.Handle("PUT /me", sessionMW.RequireAccount(http.HandlerFunc(profileHandler.UpdateMe)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	var handler http.Handler = mux
	handler = sessionMW.PasswordExpiryGate(handler)
	handler = sessionMW.WithSession(handler)
	handler = observability.RequestLoggingMiddleware(logger, handler)
	handler = observability.RecoverMiddleware(logger, handler)

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			if closeSessions != nil {
				_ = closeSessions()
			}
			return database.Close()
		},
	}, nil
}

func openDatabase(cfg *config.Config, logger *observability.Logger) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := database.PingContext(ctx); pingErr != nil {
			logger.Warn("database_ping_retry", map[string]any{"error": pingErr.Error()})
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}

func buildSessionStore(cfg *config.Config, logger *observability.Logger) (httpsession.Store, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Info("session_store_memory", nil)
		return httpsession.NewMemoryStore(cfg.SessionIdleTTL), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("session_store_redis", map[string]any{"addr": cfg.RedisAddr})
	return httpsession.NewRedisStore(client, cfg.SessionIdleTTL), client.Close, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
