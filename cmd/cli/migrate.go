package cli

import (
	"kazi/internal/database"

	"github.com/spf13/cobra"
)

var flagSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer closeDB(db)

		log.Info("Starting database migration...")
		if err := database.Migrate(db); err != nil {
			return err
		}
		if flagSeed {
			if err := database.Seed(db); err != nil {
				return err
			}
			log.Info("Sample data seeded")
		}
		log.Info("Database migration completed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&flagSeed, "seed", false, "insert a sample trigger")
}
