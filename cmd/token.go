package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 access token for local testing",
	Example: `  signaling-service token --user doc-1 --role doctor
  wscat -c "ws://localhost:8080/ws/signaling/R1?token=$(signaling-service token --user pat-1 --role patient)"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(tokenUser) == "" {
			return fmt.Errorf("--user is required")
		}
		role, err := domain.ParseRole(tokenRole)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if tokenTTL > 0 {
			cfg.Security.JWT.AccessTTL = tokenTTL
		}
		j, err := newJWT(cfg.Security.JWT)
		if err != nil {
			return err
		}

		tok, err := j.Sign(domain.Identity{UserID: tokenUser, Role: role}, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id (sub claim)")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", "patient", "doctor|patient")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default security.jwt.accessTTL)")
}
