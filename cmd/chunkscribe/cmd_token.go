package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the serve API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret is not configured")
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			scopes, _ := cmd.Flags().GetStringSlice("scope")

			tok, err := middleware.IssueToken([]byte(cfg.API.JWTSecret), args[0], scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	c.Flags().StringSlice("scope", []string{middleware.ScopeTranscribe}, "scopes to embed in the token")
	return c
}
