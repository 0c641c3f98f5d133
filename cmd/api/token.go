package main

import (
	"fmt"
	"time"

	"payment-link-gateway/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// tokenCmd issues dashboard tokens; merchant login itself lives in the
// account service.
func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [merchant-id]",
		Short: "Issue a merchant dashboard JWT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merchantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("merchant id: %w", err)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured (set PLG_JWT_SECRET)")
			}

			expiry := cfg.JWT.Expiry
			if ttl > 0 {
				expiry = ttl
			}
			token, expiresAt, err := service.NewJWTTokenService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer).Generate(merchantID)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default jwt.expiry)")
	return cmd
}
