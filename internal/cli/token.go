package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/config"
)

// NewTokenCmd mints an access token signed with JWT_SECRET. Production tokens come from the
// identity provider; this is for local development.
func NewTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			token, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTokenTTL).
				GenerateAccessToken(userID, auth.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject (user id) of the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleClient), "client, supplier, venue_owner or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
