package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/quatton/qci/pkg/qapi/config"
	"github.com/quatton/qci/pkg/qauth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenEvents  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a trigger token signed with QCI_AUTH_SECRET",
	Long: `Mint a token for qcictl or a forge webhook.

--events lists the event types the holder may dispatch ("*" for all,
"manual" to start pipelines by name, "exec" for ad-hoc runs). Without
--events the token is read-only.

Examples:
  qciserver token --sub github --events push,pull_request
  qciserver token --sub alice --events '*' --ttl 720h
  qciserver token --sub dashboard`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.ValidateEnv()
		if err != nil {
			log.Fatalf("❌ %v\n", err)
		}
		signer, err := qauth.NewSigner(cfg.AuthSecret)
		if err != nil {
			log.Fatalf("❌ %v\n", err)
		}
		token, err := signer.Issue(tokenSubject, tokenEvents, tokenTTL)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "Who the token is for")
	tokenCmd.Flags().StringSliceVar(&tokenEvents, "events", nil, "Event types the token may dispatch")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Lifetime, 0 for no expiry")
	tokenCmd.MarkFlagRequired("sub")
	rootCmd.AddCommand(tokenCmd)
}
