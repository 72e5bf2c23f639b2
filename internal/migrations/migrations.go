// Package migrations embeds the schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var files embed.FS

const dir = "sql"

// Files exposes the embedded migration sources.
func Files() embed.FS { return files }

type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }
func (l zapLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }

func setup(logger *zap.SugaredLogger) error {
	goose.SetBaseFS(files)
	if logger != nil {
		goose.SetLogger(zapLogger{s: logger})
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	return nil
}
