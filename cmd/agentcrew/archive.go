package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcrew/agent/crew"
	"github.com/BaSui01/agentcrew/config"
	"github.com/BaSui01/agentcrew/internal/cache"
	"github.com/BaSui01/agentcrew/internal/database"
	"github.com/BaSui01/agentcrew/internal/metrics"
)

// =============================================================================
// 🗄️ 运行归档
// =============================================================================

// archives 按配置打开的归档端；未启用的字段为 nil
type archives struct {
	pool  *database.PoolManager
	repo  *database.RunRepository
	cache *cache.Manager
	redis *cache.RunArchive
}

// openArchives 打开配置中启用的数据库与 Redis 归档。migrate 为 true 时顺带建表。
func openArchives(ctx context.Context, cfg *config.Config, collector *metrics.Collector, migrate bool, logger *zap.Logger) (*archives, error) {
	a := &archives{}

	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		var opts []database.PoolOption
		if collector != nil {
			opts = append(opts, database.WithPoolCollector(collector, cfg.Database.Driver))
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger, opts...)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.repo = database.NewRunRepository(pool, collector, logger)
		if migrate {
			if err := a.repo.Migrate(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	if cfg.Redis.Enabled {
		var opts []cache.Option
		if collector != nil {
			opts = append(opts, cache.WithCollector(collector))
		}
		m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis), logger, opts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = m
		a.redis = cache.NewRunArchive(m, logger)
	}

	return a, nil
}

// sinks 返回已打开的归档端
func (a *archives) sinks() []crew.ArtifactSink {
	var out []crew.ArtifactSink
	if a.repo != nil {
		out = append(out, a.repo)
	}
	if a.redis != nil {
		out = append(out, a.redis)
	}
	return out
}

// Close 关闭全部连接
func (a *archives) Close() {
	if a.pool != nil {
		_ = a.pool.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

// =============================================================================
// 🔄 migrate 命令
// =============================================================================

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database archive is disabled (set database.enabled)")
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := openArchives(context.Background(), cfg, nil, true, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Run archive ready (%s)\n", cfg.Database.Driver)
	return nil
}
