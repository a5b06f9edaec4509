package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
)

type command func(ctx context.Context, runner *migrate.Runner) error

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty uses the set embedded in the binary")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	skipVerify := flag.Bool("skip-verify", false, "skip the platform account check after up")
	flag.Parse()

	// create and validate only touch the filesystem
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.Create(target, *name, time.Now())
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		files, err := migrate.Files(*dir)
		if err == nil {
			err = migrate.Validate(files)
		}
		if err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	commands := map[string]command{
		"up": func(ctx context.Context, r *migrate.Runner) error {
			applied, err := r.Up(ctx)
			logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
			return err
		},
		"down": func(ctx context.Context, r *migrate.Runner) error { return r.Down(ctx) },
		"redo": func(ctx context.Context, r *migrate.Runner) error { return r.Redo(ctx) },
		"status": func(ctx context.Context, r *migrate.Runner) error {
			rows, err := r.Status(ctx)
			for _, row := range rows {
				logg.Info(logg.WithFields(ctx, map[string]any{
					"version": row.Version,
					"file":    row.Path,
					"applied": row.Applied,
				}), "migration status")
			}
			return err
		},
		"version": func(ctx context.Context, r *migrate.Runner) error {
			if *version == "" {
				return fmt.Errorf("missing -version for version command")
			}
			return r.To(ctx, *version)
		},
	}
	run, ok := commands[*cmd]
	if !ok {
		exitf("unknown -cmd value: %s", *cmd)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Environment: cfg.App.Env,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx := logg.WithFields(sigCtx, map[string]any{"cmd": *cmd, "dir": *dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	files, err := migrate.Files(*dir)
	requireResource(ctx, logg, "migration files", err)
	runner, err := migrate.NewRunner(sqlDB, files)
	requireResource(ctx, logg, "migration runner", err)

	if err := run(ctx, runner); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}

	if *cmd == "up" && !*skipVerify {
		platformID := cfg.Settlement.PlatformAccount()
		if err := migrate.VerifyPlatformAccount(ctx, dbClient.DB(), platformID); err != nil {
			logg.Error(ctx, "platform account check failed", err)
			os.Exit(1)
		}
		logg.Info(logg.WithField(ctx, "platform_account_id", platformID.String()), "platform account present")
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
