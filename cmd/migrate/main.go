package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/erp/payroll/internal/infrastructure/config"
	"github.com/erp/payroll/internal/infrastructure/logger"
	"github.com/erp/payroll/internal/infrastructure/migration"
	"github.com/erp/payroll/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

type env struct {
	log      *zap.Logger
	dir      string // empty means the embedded set
	confirm  bool
	migrator *migration.Migrator
	db       *sql.DB
}

type command struct {
	args    string
	summary string
	minArgs int
	// offline commands never open a database connection
	offline bool
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"up":      {summary: "Apply all pending migrations", run: runUp},
	"down":    {summary: "Roll back every migration, dropping document history (needs -yes)", run: runDown},
	"step":    {args: "<n>", summary: "Apply n migrations (positive=up, negative=down)", minArgs: 1, run: runStep},
	"goto":    {args: "<version>", summary: "Migrate to a specific version", minArgs: 1, run: runGoto},
	"version": {summary: "Show the current migration version", run: runVersion},
	"force":   {args: "<version>", summary: "Mark a version as applied without running it", minArgs: 1, run: runForce},
	"verify":  {summary: "Check that every payroll table exists", run: runVerify},
	"create":  {args: "<name> [desc]", summary: "Create a new migration file pair", minArgs: 1, offline: true, run: runCreate},
	"list":    {summary: "List available migrations", offline: true, run: runList},
}

var commandOrder = []string{"up", "down", "step", "goto", "version", "force", "verify", "create", "list"}

func main() {
	var (
		path     string
		logLevel string
		yes      bool
	)
	flag.StringVar(&path, "path", "", "Read migrations from this directory instead of the embedded set")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&yes, "yes", false, "Confirm destructive commands")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	name, args := args[0], args[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage()
		os.Exit(1)
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
	defer func() { _ = log.Sync() }()

	if len(args) < cmd.minArgs {
		log.Fatal("Missing arguments", zap.String("usage", "migrate "+name+" "+cmd.args))
	}

	e := &env{log: log, confirm: yes}
	if path != "" {
		if e.dir, err = filepath.Abs(path); err != nil {
			log.Fatal("Failed to resolve migrations path", zap.Error(err))
		}
	}
	log.Info("Migration CLI started", zap.String("command", name), zap.String("source", e.source()))

	if !cmd.offline {
		closeDB := e.connect()
		defer closeDB()
	}
	if err := cmd.run(e, args); err != nil {
		log.Fatal("Migration command failed", zap.String("command", name), zap.Error(err))
	}
}

func (e *env) source() string {
	if e.dir == "" {
		return "embedded"
	}
	return e.dir
}

// connect opens PostgreSQL from the service configuration and builds the migrator
func (e *env) connect() func() {
	cfg, err := config.Load()
	if err != nil {
		e.log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Database.Driver == "sqlite" {
		e.log.Fatal("SQL migrations target PostgreSQL; sqlite schemas are created by the server on startup")
	}

	e.db, err = sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		e.log.Fatal("Failed to open database", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.db.PingContext(ctx); err != nil {
		e.log.Fatal("Failed to reach database", zap.Error(err))
	}

	if e.dir != "" {
		e.migrator, err = migration.New(e.db, e.dir, e.log)
	} else {
		e.migrator, err = migration.NewFromFS(e.db, migrations.FS, e.log)
	}
	if err != nil {
		e.log.Fatal("Failed to create migrator", zap.Error(err))
	}
	return func() {
		_ = e.migrator.Close()
		_ = e.db.Close()
	}
}

func runUp(e *env, _ []string) error {
	return e.migrator.Up()
}

func runDown(e *env, _ []string) error {
	if !e.confirm {
		return errors.New("down drops every payroll document and audit record; rerun with -yes")
	}
	return e.migrator.Down()
}

func runStep(e *env, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid step count %q", args[0])
	}
	if n < 0 && !e.confirm {
		return errors.New("stepping down may drop payroll tables; rerun with -yes")
	}
	return e.migrator.Steps(n)
}

func runGoto(e *env, args []string) error {
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return e.migrator.GoTo(uint(version))
}

func runVersion(e *env, _ []string) error {
	status, err := e.migrator.Status()
	if err != nil {
		return err
	}
	if !status.Applied {
		e.log.Info("No migrations applied")
		return nil
	}
	e.log.Info("Current migration version", zap.Uint("version", status.Version), zap.Bool("dirty", status.Dirty))
	return nil
}

func runForce(e *env, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return e.migrator.Force(version)
}

func runVerify(e *env, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	missing, err := migration.MissingTables(ctx, e.db, migration.PayrollTables...)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing tables: %s", strings.Join(missing, ", "))
	}
	e.log.Info("Payroll schema verified", zap.Strings("tables", migration.PayrollTables))
	return nil
}

func runCreate(e *env, args []string) error {
	dir := e.dir
	if dir == "" {
		dir = defaultMigrationsPath
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}
	mf, err := migration.CreateMigration(dir, args[0], description, time.Now())
	if err != nil {
		return err
	}
	e.log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func runList(e *env, _ []string) error {
	var source fs.FS = migrations.FS
	if e.dir != "" {
		source = os.DirFS(e.dir)
	}
	names, err := migration.ListMigrations(source)
	if err != nil {
		return err
	}
	e.log.Info("Available migrations", zap.Int("count", len(names)))
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}

func printUsage() {
	var b strings.Builder
	b.WriteString("Payroll Database Migration Tool\n\nUsage:\n  migrate [flags] <command> [arguments]\n\nCommands:\n")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(&b, "  %-22s%s\n", strings.TrimSpace(name+" "+cmd.args), cmd.summary)
	}
	b.WriteString("\nFlags:\n")
	fmt.Fprint(os.Stderr, b.String())
	flag.PrintDefaults()
	fmt.Fprint(os.Stderr, `
Environment Variables:
  PAYROLL_DATABASE_HOST, PAYROLL_DATABASE_PORT, PAYROLL_DATABASE_USER,
  PAYROLL_DATABASE_PASSWORD, PAYROLL_DATABASE_DBNAME, PAYROLL_DATABASE_SSLMODE

Examples:
  migrate up && migrate verify
  migrate -yes step -1
  migrate create add_retention_index "Index documents by deletion time"
`)
}
