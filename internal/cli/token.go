package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/esprelay/internal/auth"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for scripting the API",
	Long: `Signs a session token with the configured secret, exactly as a browser
login would. Send it as the session cookie to call the operator API:

  curl -b "session=$(esprelay token)" -X POST localhost:8000/action/esp1/open`,
	RunE: runToken,
}

func init() {
	addConfigFlags(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "username to embed (defaults to the operator)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	user := tokenUser
	if user == "" {
		user = cfg.Operator.Username
	}

	codec, err := auth.NewCodec(cfg.Session.Secret)
	if err != nil {
		return err
	}
	token, err := codec.Issue(user)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
