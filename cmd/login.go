package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbox-export/config"
	"github.com/dhcgn/mailbox-export/credential"
)

var (
	loginFromStdin bool
	loginDelete    bool
)

var loginCmd = &cobra.Command{
	Use:   "login [ACCOUNT]",
	Short: "Store the IMAP password or Gmail refresh token in the OS keyring",
	Long: "Stores the secret of the configured source in the OS keyring. The account defaults to\n" +
		"<imap-user>@<imap-host> for IMAP and to the client id for Gmail.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := ""
		if len(args) == 1 {
			account = args[0]
		}
		key, err := config.AccountKey(cmd, account)
		if err != nil {
			return err
		}

		store := credential.NewKeyring()
		if loginDelete {
			if err := store.Delete(key); err != nil {
				return err
			}
			pterm.Success.Printf("Removed %s\n", key)
			return nil
		}

		secret, err := readSecret(key)
		if err != nil {
			return err
		}
		if secret == "" {
			return fmt.Errorf("%w: empty secret for %s", config.ErrMissingSecret, key)
		}
		if err := store.Set(key, secret); err != nil {
			return err
		}
		pterm.Success.Printf("Stored %s\n", key)
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginFromStdin, "stdin", false, "Read the secret from the first line of stdin")
	loginCmd.Flags().BoolVar(&loginDelete, "delete", false, "Remove the stored secret instead")
	rootCmd.AddCommand(loginCmd)
}

func readSecret(key string) (string, error) {
	if loginFromStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show("Secret for " + key)
}
