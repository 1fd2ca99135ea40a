package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thruflo/esprelay/internal/auth"
)

var hashFromStdin bool

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an operator password for WEB_PASS_HASH",
	Long: `Prompts for the operator password twice and prints its argon2id hash.
Put the hash in WEB_PASS_HASH or operator.password_hash so the plaintext
password never has to live in configuration.`,
	RunE: runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&hashFromStdin, "stdin", false, "read the password from the first line of stdin instead of prompting")
	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if hashFromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
		if password == "" {
			return auth.ErrEmptyPassword
		}
	} else {
		p, err := auth.PromptAndConfirmPassword(cmd.ErrOrStderr(), int(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		password = p
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
