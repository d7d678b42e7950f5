package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/labtrace-backend/internal/data/db"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Postgres *db.PostgresService
	DB       *gorm.DB
	Repos    Repos
	Clients  Clients
	Metrics  *observability.Metrics

	needs        Needs
	otelShutdown func(context.Context) error
}

// New connects the database and the clients named by needs. Migrations run
// only when migrate is set.
func New(ctx context.Context, cfg Config, needs Needs, migrate bool) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("service", cfg.ServiceName)

	metrics := observability.Init(log)
	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log, db.ConfigFromEnv())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if migrate {
		if err := pg.AutoMigrateAll(); err != nil {
			_ = pg.Close()
			log.Sync()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	clients, err := wireClients(ctx, log, needs)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Postgres:     pg,
		DB:           theDB,
		Repos:        reposet,
		Clients:      clients,
		Metrics:      metrics,
		needs:        needs,
		otelShutdown: shutdown,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.Postgres != nil {
		_ = a.Postgres.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
