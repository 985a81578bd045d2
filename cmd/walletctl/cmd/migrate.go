package cmd

import (
	"fmt"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|status>",
	Short:     "Apply, roll back or inspect schema migrations",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := args[0]
	switch command {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.MySQL.AutoMigrate = false
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := database.Migrate(db, command); err != nil {
		return err
	}
	if command != "status" {
		output.Success("migrate " + command + " done")
	}
	return nil
}
