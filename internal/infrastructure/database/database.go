// Package database 负责 PostgreSQL 连接池的初始化、健康检查与关闭。
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bionicotaku/lingo-services-transcription/internal/infrastructure/configloader"
)

const healthCheckTimeout = 5 * time.Second

// NewPgxPool 创建连接池并在启动时执行健康检查，返回的 cleanup 供 Wire 在退出时调用。
//
// 未启用 prepared statements 时切换为 simple protocol（Supabase pooler 要求）；
// 配置了 schema 时在每个连接上设置 search_path。
func NewPgxPool(ctx context.Context, cfg configloader.DatabaseConfig, logger log.Logger) (*pgxpool.Pool, func(), error) {
	helper := log.NewHelper(logger)
	if cfg.DSN == "" {
		return nil, nil, errors.New("database: postgres DSN is required (set DATABASE_URL)")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("database: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MinOpenConns > 0 {
		poolConfig.MinConns = cfg.MinOpenConns
	}
	if d := cfg.MaxConnLifetime.Std(); d > 0 {
		poolConfig.MaxConnLifetime = d
	}
	if d := cfg.MaxConnIdleTime.Std(); d > 0 {
		poolConfig.MaxConnIdleTime = d
	}
	if d := cfg.HealthCheckPeriod.Std(); d > 0 {
		poolConfig.HealthCheckPeriod = d
	}
	poolConfig.ConnConfig.Tracer = &queryTracer{helper: helper}

	if schema := cfg.Schema; schema != "" {
		ident := pgx.Identifier{schema}.Sanitize()
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "SET search_path TO "+ident+", public"); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
			return nil
		}
	}
	if !cfg.PreparedStatements {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database: create pool: %w", err)
	}
	if err := healthCheck(ctx, pool, helper); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database: health check: %w", err)
	}

	helper.Infof("postgres pool created: dsn=%s max_conns=%d min_conns=%d schema=%s prepared_statements=%v",
		sanitizeDSN(cfg.DSN), poolConfig.MaxConns, poolConfig.MinConns, cfg.Schema, cfg.PreparedStatements)

	cleanup := func() {
		helper.Info("closing postgres pool")
		pool.Close()
	}
	return pool, cleanup, nil
}

func healthCheck(ctx context.Context, pool *pgxpool.Pool, helper *log.Helper) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("version query: %w", err)
	}
	helper.Infof("database health check passed: version=%s", truncateVersion(version))
	return nil
}

// sanitizeDSN 隐藏 DSN 中的密码。
func sanitizeDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}
	return parsed.String()
}

func truncateVersion(version string) string {
	if idx := strings.Index(version, "("); idx != -1 {
		return strings.TrimSpace(version[:idx])
	}
	if len(version) > 100 {
		return version[:100] + "..."
	}
	return version
}

// queryTracer 只记录失败的查询，不输出 SQL 文本。
type queryTracer struct {
	helper *log.Helper
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err == nil || errors.Is(data.Err, pgx.ErrNoRows) {
		return
	}
	t.helper.WithContext(ctx).Warnf("postgres query failed: error=%v command_tag=%s", data.Err, data.CommandTag.String())
}
