package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-consultations/app/middleware"
)

var (
	tokenUserID uint64
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Caller token tooling for local environments",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Print a signed caller bearer token",
	Run: func(cmd *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		if cfg.Auth.JWTSecret == "" {
			logrus.Fatal("AUTH_JWT_SECRET is required to issue tokens")
		}

		role := strings.ToLower(strings.TrimSpace(tokenRole))
		switch role {
		case middleware.RoleClient, middleware.RoleProfessional, middleware.RoleAdmin:
		default:
			logrus.WithField("role", tokenRole).Fatal("Unsupported caller role")
		}
		if tokenUserID == 0 {
			logrus.Fatal("--user-id is required")
		}

		token, err := middleware.NewIdentity(cfg.Auth.JWTSecret).Issue(middleware.Caller{UserID: tokenUserID, Role: role}, tokenTTL)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to sign token")
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().Uint64Var(&tokenUserID, "user-id", 0, "Caller user id")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleClient, "Caller role (client, professional, admin)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
