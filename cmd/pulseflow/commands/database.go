package commands

import (
	"context"
	"database/sql"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pulseflow/am"
	"github.com/teranos/pulseflow/db"
	"github.com/teranos/pulseflow/engine"
	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/logger"
	"github.com/teranos/pulseflow/process"
)

// openDatabase opens and migrates the database. The --db flag wins over
// database.path from configuration.
func openDatabase(cmd *cobra.Command, cfg *am.Config) (*sql.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// runtime bundles what every engine-backed command needs
type runtime struct {
	cfg      *am.Config
	db       *sql.DB
	registry *process.Registry
	engine   *engine.Engine
	log      *zap.SugaredLogger
}

// openRuntime loads configuration, deploys the definitions directory and
// builds an engine with the CLI service handlers registered. Overrides are
// applied to a copy of the loaded configuration.
func openRuntime(cmd *cobra.Command, overrides ...func(*am.Config)) (*runtime, error) {
	loaded, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	cfg := *loaded
	for _, override := range overrides {
		override(&cfg)
	}
	database, err := openDatabase(cmd, &cfg)
	if err != nil {
		return nil, err
	}

	log := logger.ComponentLogger("pulseflow")
	registry := process.NewRegistry()
	dir := definitionsDir(cmd, &cfg)
	if _, err := os.Stat(dir); dir != "" && err == nil {
		n, err := process.LoadDirectory(dir, registry, log)
		if err != nil {
			database.Close()
			return nil, errors.Wrapf(err, "failed to load definitions from %s", dir)
		}
		log.Debugw("Definitions loaded", "dir", dir, logger.FieldCount, n)
	} else if dir != "" {
		log.Debugw("Definitions directory not found, starting with none", "dir", dir)
	}

	e := engine.New(database, registry, engine.ConfigFromAM(&cfg), engine.WithLogger(log))
	if err := registerServices(e, log); err != nil {
		database.Close()
		return nil, err
	}
	if err := e.Build(context.Background()); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to build engine")
	}

	return &runtime{cfg: &cfg, db: database, registry: registry, engine: e, log: log}, nil
}

func (r *runtime) Close() {
	r.engine.Shutdown()
	if err := r.db.Close(); err != nil {
		r.log.Warnw("Failed to close database", logger.FieldError, err)
	}
}

func definitionsDir(cmd *cobra.Command, cfg *am.Config) string {
	if cmd.Flags().Lookup("definitions") != nil {
		if dir, _ := cmd.Flags().GetString("definitions"); dir != "" {
			return dir
		}
	}
	return cfg.Engine.DefinitionsDir
}
