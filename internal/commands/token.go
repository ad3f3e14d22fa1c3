package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/gridstore/internal/auth"
)

var (
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an API token",
	Long: `Generate a JWT for the API, signed with security.jwt_secret.

Roles: reader (reads), writer (reads and record mutations),
admin (everything, including network deletion).

Examples:
  gridstore token --subject importer --role writer
  gridstore token --subject ops --role admin --ttl 8h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{string(auth.RoleReader)}, "granted roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: security.jwt_expiration)")
	_ = tokenCmd.MarkFlagRequired("subject") //nolint:errcheck
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf(`jwt_secret not found in configuration

Add to your config.yaml:
  security:
    jwt_secret: your-secret-here

or set GS_SECURITY_JWT_SECRET`)
	}

	roles := make([]auth.Role, 0, len(tokenRoles))
	for _, raw := range tokenRoles {
		role, err := auth.ParseRole(raw)
		if err != nil {
			return err
		}
		roles = append(roles, role)
	}

	token, err := auth.NewJWTService(cfg).GenerateToken(tokenSubject, roles, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Println(token)
	return nil
}
