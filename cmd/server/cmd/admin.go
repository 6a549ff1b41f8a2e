package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/storage/postgres"
)

var (
	adminUsername string
	adminEmail    string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a super admin account",
	Long: `Create an active super admin. The password is read from ADMIN_PASSWORD.
Nothing happens when the username is already taken.

Examples:
  ADMIN_PASSWORD='...' server admin create --username ada --email ada@example.org`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(adminUsername) == "" {
			return fmt.Errorf("--username is required")
		}
		if os.Getenv("ADMIN_PASSWORD") == "" {
			return fmt.Errorf("ADMIN_PASSWORD must be set")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		pool, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		service := users.NewService(postgres.NewUserRepository(pool), nil, audit.NewLogger(logger), cfg.Server.BaseURL, logger)
		created, err := service.EnsureBootstrapAdmin(ctx, adminUsername, os.Getenv("ADMIN_PASSWORD"), adminEmail)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(cmd.OutOrStdout(), "user %q already exists\n", adminUsername)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "super admin %q created\n", adminUsername)
		return nil
	},
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminUsername, "username", "", "login name")
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "contact address")

	adminCmd.AddCommand(adminCreateCmd)
}
