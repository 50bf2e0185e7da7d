package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/usecase"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token for the instructor endpoints",
	Long: `token signs a JWT with JWT_SECRET and JWT_AUDIENCE from the service
configuration. It is meant for local testing and break-glass access.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		switch tokenRole {
		case usecase.RoleInstructor, usecase.RoleStudent:
		default:
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, args[0], tokenRole, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", usecase.RoleInstructor, "Role claim (instructor or student)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 8*time.Hour, "Token lifetime")
}
