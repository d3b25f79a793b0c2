package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		repo, err := openRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		n, err := repo.CompleteRunningSessions(ctx, time.Now())
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to close orphan sessions: %w", err)
		}
		if n > 0 {
			slog.Warn("closed sessions left running by a previous run", "count", n)
		}
		return repo, nil
	})
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if !cfg.ArchiveEnabled() {
		return NewMemoryRepository(), nil
	}
	if !cfg.UsesPostgres() {
		return OpenSQLite(ctx, cfg.DatabaseURL)
	}

	p, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}
