package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulsepal-service/internal/auth"
	"pulsepal-service/internal/config"
)

var (
	tokenSubject  string
	tokenTTL      time.Duration
	tokenReadOnly bool
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "pulsepalctl", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	tokenCmd.Flags().BoolVar(&tokenReadOnly, "read-only", false, "Limit the token to GET requests")
	rootCmd.AddCommand(tokenCmd)
}

// tokenCmd mints API tokens with the server's configured secret
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a bearer token for the HTTP and WebSocket API.

The token is signed with auth.jwt_secret from the configuration file,
so run this on a host that shares the server's configuration.`,
	Example: `  pulsepalctl token --subject rig-dashboard --read-only --ttl 720h`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		authConfig := cfg.Auth
		if tokenTTL > 0 {
			authConfig.TokenTTL = tokenTTL
		}

		tokens, err := auth.NewTokenManager(authConfig)
		if err != nil {
			return err
		}
		token, expires, err := tokens.GenerateToken(tokenSubject, tokenReadOnly)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{
				"token":      token,
				"token_type": "Bearer",
				"expires_at": expires,
				"read_only":  tokenReadOnly,
			})
		}
		fmt.Println(token)
		return nil
	},
}
