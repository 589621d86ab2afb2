package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/armando-rios/pinturillo/auth"
	"github.com/armando-rios/pinturillo/config"
	"github.com/armando-rios/pinturillo/crypto"
	"github.com/armando-rios/pinturillo/game"
	"github.com/armando-rios/pinturillo/jobs"
	"github.com/armando-rios/pinturillo/logger"
	"github.com/armando-rios/pinturillo/migrations"
	"github.com/armando-rios/pinturillo/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.SetTrustedProxies([]string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"})
	r.Use(gin.Recovery(), logger.Requests())
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func main() {
	configPath := flag.String("config", "", "optional config file, environment variables take precedence")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := logger.Setup(cfg.Debug, cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Dependencies
	ctx := context.Background()
	var (
		repository game.Repository
		stats      game.StatsRecorder
		statsView  game.StatsReader
		catalog    game.WordCatalog
		codes      game.CodeReserver
		pgRepo     *storage.PostgresRepo
	)
	if cfg.PostgresURL != "" {
		if err := migrations.Migrate(cfg.PostgresURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		pgRepo, err = storage.NewPostgresRepo(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable")
		}
		defer pgRepo.Close()
		repository, stats, statsView, catalog, codes = pgRepo, pgRepo, pgRepo, pgRepo, pgRepo
	} else {
		log.Warn().Msg("no postgres url, rooms live in memory only")
	}
	if cfg.RedisURL != "" {
		redisCodes, err := storage.NewRedisCodeReserver(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis unavailable")
		}
		defer redisCodes.Close()
		codes = redisCodes
	}

	passwordHasher, err := crypto.NewArgon2idHasher(cfg.RoomPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid room password params")
	}
	tokenManager := crypto.NewJWTManager(cfg.JWTKey, cfg.TokenMaxAge)

	wg := sync.WaitGroup{}
	hub := game.NewHub(cfg.AllowedOrigins)
	registry := game.NewRegistry(game.Options{
		Broadcaster:    hub,
		Repository:     repository,
		Stats:          stats,
		Catalog:        catalog,
		Hasher:         passwordHasher,
		Codes:          codes,
		Defaults:       cfg.RoomDefaults(),
		WaitGroup:      &wg,
		PersistTimeout: cfg.Game.PersistTimeout,
	})

	r := CreateServer(cfg.AllowedOrigins)
	if cfg.Debug {
		r.POST("/dev/token", auth.DevTokenHandler(tokenManager, cfg.TokenMaxAge))
	}

	gameHandler := game.NewGameHandler(registry, hub, statsView)
	if pgRepo != nil {
		gameHandler.WithHistory(pgRepo)
	}
	{
		api := r.Group("/api")
		api.Use(auth.RequireIdentity(tokenManager, cfg.TrollTime))
		gameHandler.Register(api)
	}

	var cleaner *jobs.Cleaner
	if pgRepo != nil {
		cleaner, err = jobs.NewCleaner(cfg.Cleanup.Schedule, pgRepo, registry, cfg.Retention())
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Cleanup.Schedule).Msg("invalid cleanup schedule")
		}
		cleaner.Start()
	}

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	<-sigCh
	log.Info().Msg("SIGTERM or SIGINT received, closing rooms before shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if cleaner != nil {
		<-cleaner.Stop().Done()
	}
	hub.Close()
	registry.Shutdown()
	wg.Wait()
	log.Info().Msg("shutting down now")
}
