package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/models"
)

// Setup opens a PostgreSQL connection using the provided config.
func Setup(cfg *config.Config) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN())))
	db := bun.NewDB(sqldb, pgdialect.New())

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(context.Background()); err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	return db
}

// CreateTables creates all tables in dependency order.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Tournament)(nil),
		(*models.Pool)(nil),
		(*models.Permalink)(nil),
		(*models.Runner)(nil),
		(*models.Race)(nil),
		(*models.ScheduledTask)(nil),
		(*models.AuditEntry)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	constraints := []string{
		// One live attempt per runner per permalink.
		`CREATE UNIQUE INDEX IF NOT EXISTS races_one_active_claim ON races (permalink_id, runner_id) WHERE status IN ('pending', 'in_progress')`,
		// Room slugs resolve to at most one race at a time.
		`CREATE UNIQUE INDEX IF NOT EXISTS races_room_slug ON races (room_slug) WHERE room_slug IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS races_status_deadlines ON races (status, forfeit_deadline)`,
		`CREATE INDEX IF NOT EXISTS scheduled_tasks_due ON scheduled_tasks (done, next_run)`,
		`CREATE INDEX IF NOT EXISTS audit_log_race ON audit_log (race_id)`,
	}
	for _, stmt := range constraints {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Printf("constraint: %v", err)
		}
	}

	return nil
}
