package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"anvil-backend/internal/auth"
	"anvil-backend/internal/config"
	"anvil-backend/internal/engine"
	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.WithFields(log.Fields{
		"port": cfg.Server.Port,
		"db":   fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name),
	}).Info("config loaded")

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("failed to bootstrap catalog tables")
	}
	if err := db.SeedAdmin(ctx, cfg.Admin); err != nil {
		log.WithError(err).Fatal("failed to seed admin account")
	}

	reg := meta.NewRegistry()
	if err := meta.LoadAll(ctx, db.DB, reg); err != nil {
		log.WithError(err).Fatal("failed to load metadata registry")
	}

	migrator := store.NewMigrator(db, reg)
	if err := migrator.EnsureAll(ctx); err != nil {
		log.WithError(err).Fatal("failed to self-heal document tables")
	}

	hooks := engine.NewHooks()
	eng := engine.New(db, reg, hooks)

	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler)

	handler := engine.NewHandler(eng, reg, migrator)
	engine.RegisterRoutes(app, handler, auth.Middleware(cfg.JWTSecret), auth.RequireAdmin())

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.WithField("addr", addr).Info("starting server")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
