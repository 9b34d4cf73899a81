package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kazi/internal/middleware"

	"github.com/spf13/cobra"
)

var (
	flagUserID   string
	flagRoles    string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd generates an HS256 JWT for testing/admin usage.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is empty; set it in config")
		}
		tok, err := middleware.SignHS256(tokenClaims(time.Now()), cfg.JWT.Secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&flagUserID, "user-id", "admin", "user id to embed as sub")
	tokenCmd.Flags().StringVar(&flagRoles, "roles", "admin", "comma-separated roles")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")
}

func tokenClaims(now time.Time) map[string]interface{} {
	claims := map[string]interface{}{
		"iat": now.Unix(),
		"sub": flagUserID,
	}
	var roles []string
	for _, p := range strings.Split(flagRoles, ",") {
		if s := strings.TrimSpace(p); s != "" {
			roles = append(roles, s)
		}
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	if !flagNoExpiry {
		claims["exp"] = now.Add(time.Duration(flagTTLMin) * time.Minute).Unix()
	}
	return claims
}
