package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/api"
	"todo-api/config"
	"todo-api/domain"
	"todo-api/events"
	"todo-api/identity"
	"todo-api/storage"
	"todo-api/todo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{Logger: logger}
	var storeOpts []todo.Option
	var open todo.BackendFactory
	var dispatcher *events.Dispatcher

	switch cfg.Mode {
	case config.ModeLocal:
		local := storage.NewLocal(cfg.LocalStorePath, logger)
		open = func(domain.User) todo.Backend { return local }
		logger.WithField("path", cfg.LocalStorePath).Info("using local store")
	case config.ModeRemote:
		if cfg.Storage.Provision {
			pctx, cancel := context.WithTimeout(ctx, time.Minute)
			err := storage.Provision(pctx, cfg.Storage.ConnectionString,
				[]string{cfg.Storage.TodosTable, cfg.Storage.UsersTable},
				[]string{cfg.Storage.EventsQueue})
			cancel()
			if err != nil {
				logger.Fatalf("provision storage: %v", err)
			}
		}

		tables, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.TodosTable, cfg.Storage.UsersTable)
		if err != nil {
			logger.Fatalf("storage: %v", err)
		}

		var rc *redis.Client
		if opts := cfg.RedisOptions(); opts != nil {
			rc = redis.NewClient(opts)
			defer rc.Close()
		}

		var remote storage.Remote = tables
		var revocations identity.Revocations = identity.NewMemoryRevocations()
		if rc != nil {
			remote = storage.NewCache(tables, rc, cfg.Redis.CacheTTL)
			revocations = identity.NewRedisRevocations(rc)
			deps.Deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		} else {
			logger.Warn("redis not configured; cache, dedupe and shared revocations disabled")
		}
		open = storage.Factory(remote)

		if cfg.Storage.EventsQueue != "" {
			queue, err := events.NewQueue(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
			if err != nil {
				logger.Fatalf("events queue: %v", err)
			}
			dispatcher = events.NewDispatcher(queue, logger, events.Options{
				Workers:        cfg.Events.Workers,
				Buffer:         cfg.Events.Buffer,
				HandoffTimeout: cfg.Events.HandoffTimeout,
				PublishTimeout: cfg.Events.PublishTimeout,
			})
			storeOpts = append(storeOpts, todo.WithPublisher(dispatcher))
		} else {
			storeOpts = append(storeOpts, todo.WithPublisher(events.Nop{}))
		}

		signer, err := identity.NewSigner([]byte(cfg.Auth.SigningSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer)
		if err != nil {
			logger.Fatalf("signer: %v", err)
		}
		deps.Accounts = identity.NewProvider(tables, identity.NewPasswordHasher(cfg.Auth.BcryptCost), signer, revocations, logger)

		var jwks *keyfunc.JWKS
		if cfg.Auth.JWKSURL != "" {
			jwks, err = keyfunc.Get(cfg.Auth.JWKSURL, keyfunc.Options{})
			if err != nil {
				logger.Fatalf("jwks: %v", err)
			}
			defer jwks.EndBackground()
		}
		deps.Auth = api.NewAuth([]byte(cfg.Auth.SigningSecret), jwks, cfg.Auth.Audience, cfg.Auth.Issuer)
	}

	deps.Sessions = todo.NewSessions(open, logger, storeOpts...)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key", "Accept-Language"},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, deps)

	go func() {
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
}
