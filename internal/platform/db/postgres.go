// Package db opens the Postgres connection used by the authority service.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Open connects to the database named by dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if logger != nil {
		db.AddQueryHook(&QueryHook{Logger: logger})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// QueryHook logs every statement at debug level and failed ones at warn.
type QueryHook struct {
	Logger *slog.Logger
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.Logger.WarnContext(ctx, "query failed",
			slog.String("operation", event.Operation()),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", event.Err),
		)
		return
	}
	h.Logger.DebugContext(ctx, "query",
		slog.String("operation", event.Operation()),
		slog.Duration("elapsed", elapsed),
		slog.String("query", event.Query),
	)
}
