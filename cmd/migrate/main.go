package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hotline/admissions/internal/infrastructure/config"
	"github.com/hotline/admissions/internal/infrastructure/logger"
	"github.com/hotline/admissions/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const sourceMigrationsPath = "migrations"

var errUsage = errors.New("usage")

// invocation is what every command receives
type invocation struct {
	args     []string
	path     string
	confirm  bool
	log      *zap.Logger
	migrator *migration.Migrator
}

type command struct {
	usage    string
	onSource bool // works on migration files, no database
	run      func(inv *invocation) error
}

var commands = map[string]command{
	"up":   {usage: "up", run: func(inv *invocation) error { return inv.migrator.Up() }},
	"down": {usage: "down", run: func(inv *invocation) error { return inv.migrator.Down() }},
	"step": {usage: "step <n>", run: func(inv *invocation) error {
		n, err := intArg(inv.args)
		if err != nil {
			return err
		}
		return inv.migrator.Steps(n)
	}},
	"goto": {usage: "goto <version>", run: func(inv *invocation) error {
		v, err := intArg(inv.args)
		if err != nil || v < 0 {
			return errUsage
		}
		return inv.migrator.GoTo(uint(v))
	}},
	"version": {usage: "version", run: runVersion},
	"force": {usage: "force <version>", run: func(inv *invocation) error {
		v, err := intArg(inv.args)
		if err != nil {
			return err
		}
		inv.log.Warn("Forcing schema version; the dirty flag is cleared", zap.Int("version", v))
		return inv.migrator.Force(v)
	}},
	"drop": {usage: "drop", run: func(inv *invocation) error {
		if !inv.confirm {
			return errors.New("drop removes every table; rerun with -confirm")
		}
		return inv.migrator.Drop()
	}},
	"create": {usage: "create <name> [description]", onSource: true, run: runCreate},
	"list":   {usage: "list", onSource: true, run: runList},
}

func main() {
	var (
		path     string
		logLevel string
		confirm  bool
	)
	flag.StringVar(&path, "path", "", "Migrations directory (default: embedded, ./migrations for create/list)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&confirm, "confirm", false, "Confirm destructive commands (drop)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	if path == "" && cmd.onSource {
		path = sourceMigrationsPath
	}
	if path != "" {
		if path, err = filepath.Abs(path); err != nil {
			log.Fatal("Failed to resolve migrations path", zap.Error(err))
		}
	}

	inv := &invocation{args: args[1:], path: path, confirm: confirm, log: log}
	if !cmd.onSource {
		db, closeDB := openDatabase(log)
		defer closeDB()

		inv.migrator, err = migration.New(db, path, log)
		if err != nil {
			log.Fatal("Failed to create migrator", zap.Error(err))
		}
		defer inv.migrator.Close()
	}

	log.Debug("Running migration command",
		zap.String("command", args[0]),
		zap.String("migrations_path", path),
		zap.Bool("embedded", path == ""),
	)
	if err := cmd.run(inv); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: migrate %s\n", cmd.usage)
			os.Exit(2)
		}
		log.Fatal("Migration command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func openDatabase(log *zap.Logger) (*sql.DB, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Database.Driver == "sqlite" {
		log.Fatal("SQLite databases are migrated by the server on startup")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.Fatal("Failed to reach database",
			zap.String("host", cfg.Database.Host),
			zap.String("dbname", cfg.Database.DBName),
			zap.Error(err),
		)
	}
	return db, func() { _ = db.Close() }
}

func intArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, errUsage
	}
	return n, nil
}

func runVersion(inv *invocation) error {
	version, dirty, err := inv.migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Println("no migrations applied")
		return nil
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Printf("%d (%s)\n", version, state)
	return nil
}

func runCreate(inv *invocation) error {
	if len(inv.args) == 0 {
		return errUsage
	}
	description := ""
	if len(inv.args) > 1 {
		description = inv.args[1]
	}
	mf, err := migration.CreateMigration(inv.path, inv.args[0], description)
	if err != nil {
		return err
	}
	fmt.Println(mf.UpPath)
	fmt.Println(mf.DownPath)
	return nil
}

func runList(inv *invocation) error {
	names, err := migration.ListMigrations(inv.path)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Hotline Admissions schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative rolls back)
  goto <version>        Migrate up or down to a version
  version               Print the applied version
  force <version>       Set the version without running migrations
  drop                  Drop every table (needs -confirm)
  create <name> [desc]  Write a new up/down migration pair
  list                  List migration files

Flags:
  -path string          Migrations directory (default: embedded; ./migrations for create/list)
  -log-level string     debug, info, warn, error (default: info)
  -confirm              Confirm drop

Database settings come from config.toml or HOTLINE_DATABASE_HOST, HOTLINE_DATABASE_PORT,
HOTLINE_DATABASE_USER, HOTLINE_DATABASE_PASSWORD, HOTLINE_DATABASE_DBNAME, HOTLINE_DATABASE_SSLMODE.
`)
}
