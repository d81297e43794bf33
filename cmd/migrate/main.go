// Command migrate manages the PostgreSQL schema of the bundle engine.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/erp/bundle-engine/internal/infrastructure/config"
	"github.com/erp/bundle-engine/internal/infrastructure/logger"
	"github.com/erp/bundle-engine/internal/infrastructure/migration"
	"github.com/erp/bundle-engine/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	var (
		dir        string
		configFile string
		logLevel   string
	)
	flag.StringVar(&dir, "path", "", "read migrations from this directory instead of the embedded set")
	flag.StringVar(&configFile, "config", "", "config file (default: ./config.toml, BUNDLE_* env)")
	flag.StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(args, dir, configFile, log); err != nil {
		log.Error("migrate failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, dir, configFile string, log *zap.Logger) error {
	command := args[0]

	switch command {
	case "create":
		if len(args) < 2 {
			return errors.New("usage: migrate -path <dir> create <name> [description]")
		}
		if dir == "" {
			return errors.New("create needs -path pointing at the migrations directory")
		}
		description := ""
		if len(args) > 2 {
			description = args[2]
		}
		mf, err := migration.CreateMigration(dir, args[1], description)
		if err != nil {
			return err
		}
		log.Info("Migration created", zap.Uint("version", mf.Version), zap.String("up", mf.UpPath), zap.String("down", mf.DownPath))
		return nil

	case "list":
		list, err := listFrom(dir, migrations.FS)
		if err != nil {
			return err
		}
		for _, m := range list {
			fmt.Println(m)
		}
		return nil
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("schema migrations target postgres; configured driver is %q (sqlite uses AutoMigrate)", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	src := migration.Source{Dir: dir, FS: migrations.FS}
	m, err := migration.New(db, src, log)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		if len(args) < 2 {
			return errors.New("usage: migrate step <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "force":
		if len(args) < 2 {
			return errors.New("usage: migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return m.Force(v)
	}
	printUsage()
	return fmt.Errorf("unknown command %q", command)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func listFrom(dir string, embedded fs.FS) ([]migration.Migration, error) {
	if dir != "" {
		return migration.ListMigrations(os.DirFS(dir))
	}
	return migration.ListMigrations(embedded)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Bundle engine schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    apply all pending migrations
  down                  roll back all migrations
  step <n>              apply n migrations (negative rolls back)
  version               show the applied version
  force <version>       mark version as applied (clears a dirty state)
  create <name> [desc]  scaffold a new up/down pair (requires -path)
  list                  list known migrations

Flags:
  -path string       migrations directory (default: embedded set)
  -config string     config file (default: ./config.toml)
  -log-level string  debug, info, warn, error (default: info)

Database settings come from the [database] section or BUNDLE_DATABASE_* env.
`)
}
