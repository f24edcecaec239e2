package main

import (
	"fmt"
	"time"

	router "github.com/dkeye/voicestage/internal/adapters/http"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [user]",
	Short: "Print a signed identity token for user",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is not configured")
	}
	user, err := domain.ParseUserID(args[0])
	if err != nil {
		return err
	}
	tok, err := router.NewTokenIssuer(cfg.JWTSecret, tokenTTL).Issue(user)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return err
}
