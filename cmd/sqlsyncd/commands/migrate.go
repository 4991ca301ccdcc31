package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlsync/sqlsync/internal/config"
	"github.com/sqlsync/sqlsync/internal/logger"
	"github.com/sqlsync/sqlsync/pkg/registry"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the registry schema migrations and exit",
	Long: `Apply the coordinator registry's schema migrations against the
configured database and exit. For sqlite this is a no-op beyond
AutoMigrate; for postgres it runs the embedded golang-migrate steps, the
same way this would be wired into a deploy pipeline ahead of starting
sqlsyncd serve against a shared HA database.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	reg, err := registry.Open(registry.Config{
		Type: registry.DatabaseType(cfg.Database.Type),
		DSN:  cfg.Database.DSN,
	})
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	defer reg.Close()

	logger.Info("registry migrations applied", "type", cfg.Database.Type)
	return nil
}
