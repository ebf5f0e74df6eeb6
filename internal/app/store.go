package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/bookshare/internal/config"
	"github.com/hitoshi/bookshare/internal/database"
	"github.com/hitoshi/bookshare/internal/domain"
	"github.com/hitoshi/bookshare/internal/handler"
	"github.com/hitoshi/bookshare/internal/repository"
	"github.com/hitoshi/bookshare/internal/repository/memstore"
)

// store はSTORE_DRIVERに応じて構築したリポジトリ群を保持する。
type store struct {
	repos  domain.Repositories
	audit  repository.AuditRepository
	health handler.HealthChecker
	close  func() error
}

// openStore は設定に従ってストアを開く。postgresの場合は疎通確認まで行う。
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return newMemoryStore(), nil
	case config.StoreDriverPostgres:
		return openPostgresStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

func newMemoryStore() *store {
	s := memstore.New()
	lending := s.Lending()
	return &store{
		repos: domain.Repositories{
			Users:     s.Users(),
			Friends:   s.Friends(),
			Books:     s.Books(),
			Shelves:   lending,
			Borrows:   lending,
			Ledger:    lending,
			Timelines: s.Timelines(),
		},
		audit: s.Audit(),
		close: func() error { return nil },
	}
}

func openPostgresStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	lending := repository.NewPostgresLendingRepo(db)
	return &store{
		repos: domain.Repositories{
			Users:     repository.NewPostgresUserRepo(db),
			Friends:   repository.NewPostgresFriendRepo(db),
			Books:     repository.NewPostgresBookRepo(db),
			Shelves:   lending,
			Borrows:   lending,
			Ledger:    lending,
			Timelines: repository.NewPostgresTimelineRepo(db),
		},
		audit:  repository.NewPostgresAuditRepo(db),
		health: db,
		close:  db.Close,
	}, nil
}
