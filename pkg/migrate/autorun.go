package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date when COINMARKET_AUTO_MIGRATE is
// on. SQLite gets the mirrored schema; Postgres runs the embedded migrations.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "dialect", client.Dialect())

	if client.Dialect() == DialectSQLite {
		if err := ApplySQLiteSchema(ctx, client.DB()); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
		logg.Info(ctx, "sqlite schema applied")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	files, err := Files("")
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, files)
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", applied), "dev migrations applied")
	return nil
}
