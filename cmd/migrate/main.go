package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/migrate"
)

// command is one migrate subcommand. offline commands never open the database.
type command struct {
	usage   string
	offline func(dir string, args []string) error
	online  func(ctx context.Context, sqlDB *sql.DB, dir string, args []string) error
}

var commands = map[string]command{
	"up":     {usage: "apply all pending migrations", online: goose("up")},
	"down":   {usage: "roll back the latest migration", online: goose("down")},
	"status": {usage: "print applied and pending migrations", online: goose("status")},
	"to": {
		usage: "migrate up or down to <version>",
		online: func(ctx context.Context, sqlDB *sql.DB, dir string, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: migrate to <YYYYMMDDHHMMSS>")
			}
			return migrate.MigrateToVersion(ctx, sqlDB, dir, args[0])
		},
	},
	"create": {
		usage: "write an empty SQL migration named <name>",
		offline: func(dir string, args []string) error {
			if len(args) == 0 {
				return errors.New("usage: migrate create <name>")
			}
			path, err := migrate.CreateSQLMigration(dir, strings.Join(args, "_"), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Println("created", path)
			return nil
		},
	},
	"validate": {
		usage: "check migration files without a database",
		offline: func(dir string, _ []string) error {
			return migrate.ValidateDir(dir)
		},
	},
}

func goose(name string) func(context.Context, *sql.DB, string, []string) error {
	return func(ctx context.Context, sqlDB *sql.DB, dir string, args []string) error {
		return migrate.Run(ctx, sqlDB, dir, name, args...)
	}
}

func main() {
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	name := "up"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	if cmd.offline != nil {
		if err := cmd.offline(*dir, args); err != nil {
			logg.Error(context.Background(), "migrate "+name+" failed", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": name,
		"dir":     *dir,
	})

	if err := runOnline(ctx, cfg, logg, cmd, *dir, args); err != nil {
		logg.Error(ctx, "migrate "+name+" failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate "+name+" done")
}

func runOnline(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd command, dir string, args []string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	return cmd.online(ctx, sqlDB, dir, args)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-dir path] <command> [args]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].usage)
	}
}
