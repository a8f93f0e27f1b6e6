package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/access"
	"github.com/keyforged/keyforged/internal/config"
	"github.com/keyforged/keyforged/internal/db"
	internalhttp "github.com/keyforged/keyforged/internal/http"
	"github.com/keyforged/keyforged/internal/http/api/admin"
	"github.com/keyforged/keyforged/internal/http/api/front"
	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/quota"
	"github.com/keyforged/keyforged/internal/security"
	"github.com/keyforged/keyforged/internal/settings"
	"github.com/keyforged/keyforged/internal/store"
	"github.com/keyforged/keyforged/internal/usage"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

// SetupLogging configures logrus output and rotation.
func SetupLogging(cfg config.LoggingConfig) {
	level, errParse := log.ParseLevel(cfg.Level)
	if errParse != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the API key service.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	SetupLogging(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errBootstrap := bootstrapAdmin(ctx, conn); errBootstrap != nil {
		return errBootstrap
	}
	if errPolicy := settings.RefreshKeyPolicy(ctx, conn); errPolicy != nil {
		return fmt.Errorf("app: load key policy: %w", errPolicy)
	}

	var rdb *redis.Client
	if cfg.Quota.Backend == quota.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if errPing := rdb.Ping(pingCtx).Err(); errPing != nil {
			return fmt.Errorf("app: redis ping: %w", errPing)
		}
	}

	keys := store.NewGormKeyStore(conn)
	engine := access.NewEngine(keys)
	enforcer, errEnforcer := quota.New(cfg.Quota.Backend, conn, rdb, cfg.Quota.ResetPeriod)
	if errEnforcer != nil {
		return errEnforcer
	}
	recorder := usage.NewRecorder(conn)

	router := buildRouter(conn, keys, engine, enforcer, recorder, cfg)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

// buildRouter assembles the gin engine with all route groups.
func buildRouter(conn *gorm.DB, keys store.KeyStore, engine *access.Engine, enforcer quota.Enforcer, recorder *usage.Recorder, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	front.RegisterFrontRoutes(router, conn, keys, cfg.JWT)
	admin.RegisterAdminRoutes(router, conn, keys, cfg.JWT)

	// Key-protected API surface. Everything under /v1 requires a valid,
	// quota-checked API key.
	protected := router.Group("/v1")
	protected.Use(internalhttp.KeyAuthMiddleware(engine, enforcer, recorder, cfg.APIKey.Header))
	protected.Use(internalhttp.RequireAPIKey())
	protected.GET("/whoami", func(c *gin.Context) {
		principal := internalhttp.GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{
			"principal": principal.Identifier(),
			"key_id":    principal.KeyID,
			"user_id":   principal.UserID,
		})
	})

	return router
}

// bootstrapAdmin creates an initial administrator account when none exists.
// The generated password is printed once to the log.
func bootstrapAdmin(ctx context.Context, conn *gorm.DB) error {
	var count int64
	if errCount := conn.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("app: count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	password, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		return errGenerate
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	row := models.Admin{Username: "admin", PasswordHash: hash}
	if errCreate := conn.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("app: create admin: %w", errCreate)
	}
	log.WithField("username", row.Username).Warnf("bootstrap admin created, password: %s", password)
	return nil
}
