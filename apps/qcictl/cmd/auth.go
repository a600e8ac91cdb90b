package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quatton/qci/pkg/qauth"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the trigger token used with --remote",
	Long: `Manage the token qcictl presents to a qci server.

Tokens are minted by the server operator ('qciserver token') and stored in
the OS keyring, keyed by base URL. QCI_TOKEN or --token take precedence.

Examples:
  qcictl auth set-token
  qcictl auth status
  qcictl auth logout`,
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store a token for the configured base URL (reads stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}

		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Token: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("empty token")
		}

		claims, err := qauth.Inspect(token)
		if err != nil {
			return err
		}
		if err := qsdk.SaveToken(cfg.BaseURL, token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		fmt.Printf("✓ Token for %s saved (%s)\n", cfg.BaseURL, describeClaims(claims))
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token for the configured base URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if err := qsdk.DeleteToken(cfg.BaseURL); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
		fmt.Printf("Logged out of %s\n", cfg.BaseURL)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the token qcictl would use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		token, err := qsdk.ResolveToken(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Server: %s\n", cfg.BaseURL)
		if token == "" {
			fmt.Println("Not authenticated")
			return nil
		}

		claims, err := qauth.Inspect(token)
		if err != nil {
			return err
		}
		fmt.Printf("Token:  %s\n", describeClaims(claims))
		if expired, _ := qauth.IsTokenExpired(token, 0); expired {
			fmt.Println("⚠️  Token has expired")
		}
		return nil
	},
}

func describeClaims(c *qauth.TriggerClaims) string {
	parts := []string{"subject " + c.Subject}
	if c.CanWrite() {
		parts = append(parts, "events "+strings.Join(c.Events, ","))
	} else {
		parts = append(parts, "read-only")
	}
	if c.ExpiresAt != nil {
		parts = append(parts, "expires "+c.ExpiresAt.Local().Format(time.DateTime))
	}
	return strings.Join(parts, ", ")
}

func init() {
	authCmd.AddCommand(authSetTokenCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
