package app

import (
	"context"
	"database/sql"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fuelgrid/internal/auth"
	"fuelgrid/internal/config"
	"fuelgrid/internal/credentials"
	"fuelgrid/internal/datastore"
	httpserver "fuelgrid/internal/http"
	"fuelgrid/internal/http/handlers"
	"fuelgrid/internal/http/middleware"
	"fuelgrid/internal/password"
	"fuelgrid/internal/repository"
	"fuelgrid/internal/scheduler"
	"fuelgrid/internal/stations"
	syncengine "fuelgrid/internal/sync"
	"fuelgrid/internal/syncstate"
	"fuelgrid/internal/token"
	"fuelgrid/internal/tradeapi"
	"fuelgrid/internal/transport"
	"fuelgrid/internal/ws"
	libdb "fuelgrid/libs/db"
	libredis "fuelgrid/libs/redis"
)

// App wires sync-service dependencies.
type App struct {
	server      *httpserver.Server
	scheduler   *scheduler.Scheduler
	hub         *ws.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	credentialStore := credentials.NewStore(redisClient)
	stateStore := syncstate.NewStore(redisClient)

	tokenManager := token.NewManager(string(transport.DestinationTradeAPI), token.RenewalConfig{
		URL:      strings.TrimRight(cfg.TradeAPI.BaseURL, "/") + "/v1/login",
		Username: cfg.TradeAPI.Username,
		Password: cfg.TradeAPI.Password,
	}, credentialStore, logger)

	transportClient := transport.NewClient(cfg, map[transport.Destination]transport.TokenSource{
		transport.DestinationTradeAPI: tokenManager,
	}, logger)

	stationRepo := repository.NewStationRepository(sqlDB)
	operationRepo := repository.NewOperationRepository(sqlDB)
	userRepo := repository.NewUserRepository(sqlDB)

	var operationStore syncengine.OperationStore = operationRepo
	if cfg.UseDatastore() {
		operationStore = datastore.NewClient(transportClient, logger)
	}

	resolver := stations.NewResolver(stationRepo)
	tradeClient := tradeapi.NewClient(transportClient, logger)
	hub := ws.NewHub(logger)

	batchSize, batchPause, stationPause := cfg.SyncEngine()
	engine := syncengine.NewEngine(resolver, tradeClient, operationStore, stationRepo, stateStore, hub, syncengine.Config{
		BatchSize:    batchSize,
		BatchPause:   batchPause,
		StationPause: stationPause,
	}, logger)

	tokenService := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenTTL())
	authService := auth.NewService(userRepo, password.NewBcryptHasher(cfg.Auth.BcryptCost), tokenService, logger)

	syncHandler := handlers.NewSyncHandler(engine, stateStore, logger)
	routes := httpserver.Routes{
		Login:         handlers.NewLoginHandler(authService),
		SyncTrigger:   syncHandler.HandleTrigger,
		SyncStatus:    syncHandler.HandleStatus,
		SyncEvents:    handlers.NewSyncEventsHandler(hub, logger),
		Operations:    handlers.NewOperationsHandler(operationRepo),
		Health:        handlers.NewHealthHandler(),
		AuthProtected: middleware.AuthMiddleware(tokenService),
	}

	sched, err := scheduler.New(cfg.Sync.Schedule, engine, logger)
	if err != nil {
		redisClient.Close()
		sqlDB.Close()
		return nil, err
	}

	server := httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(routes), logger)

	return &App{
		server:      server,
		scheduler:   sched,
		hub:         hub,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the background loops and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Start(ctx)
	a.scheduler.Start()
	defer a.scheduler.Stop()
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
