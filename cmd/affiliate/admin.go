package main

import (
	"fmt"

	"affiliate/internal/auth"
	"affiliate/internal/config"
	"affiliate/internal/db"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage dashboard admins",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a dashboard admin",
	Long: `Create a dashboard admin.

Example:
  affiliate admin create --email me@example.com --password 'a long passphrase'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		u, err := (&auth.Service{DB: gdb}).CreateAdmin(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d)\n", u.Email, u.ID)
		return nil
	},
}

func init() {
	adminCreateCmd.Flags().String("email", "", "admin email")
	adminCreateCmd.Flags().String("password", "", "admin password (min 12 characters)")
	adminCmd.AddCommand(adminCreateCmd)
	rootCmd.AddCommand(adminCmd)
}
