package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/karwadev/bannerbot/internal/admin"
	"github.com/karwadev/bannerbot/internal/config"
	"github.com/karwadev/bannerbot/internal/database"
	"github.com/karwadev/bannerbot/internal/geometry"
	"github.com/karwadev/bannerbot/internal/openrouter"
	"github.com/karwadev/bannerbot/internal/repository"
	"github.com/karwadev/bannerbot/internal/service"
	"github.com/karwadev/bannerbot/internal/storage"
	"github.com/karwadev/bannerbot/internal/telegram"
	"github.com/karwadev/bannerbot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, cfg); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, cfg.RateLimitWindow, cfg.ReservationTTL)

	var archiver service.Archiver
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage archive: %v", err)
		}
		archiver = archive
	}

	modelClient := openrouter.NewClient(cfg, logr)
	corrector := geometry.New(cfg.MaxMagnification)

	userService := service.NewUserService(userRepo)
	accessService := service.NewAccessService(cfg.OwnerUserID, userRepo, ledgerRepo)
	generationService := service.NewGenerationService(logr, accessService, ledgerRepo, modelClient, corrector, archiver)

	bot := telegram.NewBot(cfg, botAPI, logr, userService, accessService, generationService, ledgerRepo)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, accessService, ledgerRepo, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
