package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Token returns the token command, which signs a bearer token with the
// server's JWT secret. It is meant for bootstrapping the first admin.
func Token() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}

			r := types.UserRole(role)
			if !r.IsValid() {
				return fmt.Errorf("invalid role %q", role)
			}

			token, err := auth.NewAuth(secret, ttl).Issue(userID, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID the token identifies (required)")
	cmd.Flags().StringVar(&role, "role", string(types.RoleAdmin), "ADMIN or USER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
