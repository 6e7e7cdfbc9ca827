package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pieceproject/kbd/internal/config"
	"github.com/pieceproject/kbd/internal/store"
)

// newMigrateCmd applies the store's schema migrations and exits. store.Open
// migrates on every call, so this command exists purely to let an operator
// run the migration as an explicit, isolated step (e.g. before a `serve`
// that should fail fast on a fresh-but-unmigrated data directory).
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to kb.db",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dataDir != "" {
				cfg.DataPath = dataDir
			}

			dbPath := filepath.Join(cfg.DataPath, "kb.db")
			db, err := store.Open(cmd.Context(), dbPath, cfg.Store.PoolSize, cfg.Store.CacheMB)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer db.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s to the current schema\n", dbPath)
			return nil
		},
	}
}
