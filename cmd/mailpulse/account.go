package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailpulse/mailpulse/account"
	"github.com/mailpulse/mailpulse/config"
)

func newAccountCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the credentials stored in the OS keyring",
	}

	var acc account.Account
	set := &cobra.Command{
		Use:   "set <email>",
		Short: "Store the credentials of an account",
		Long: fmt.Sprintf(`Store the credentials of an account. The password is taken from
%[1]s_PASSWORD, or prompted for. An OAuth 2.0 access token in
%[1]s_OAUTH_TOKEN is stored instead of a password.`, config.EnvPrefix),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc.Email = args[0]
			if token := os.Getenv(config.EnvPrefix + "_OAUTH_TOKEN"); token != "" {
				acc.OAuthToken = token
				return a.save(cmd, &acc)
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			acc.Password = password
			return a.save(cmd, &acc)
		},
	}
	set.Flags().StringVar(&acc.Username, "username", "", "login name, defaults to the address")
	set.Flags().StringVar(&acc.IMAPHost, "imap-host", "", "IMAP host, defaults to the provider's")
	set.Flags().IntVar(&acc.IMAPPort, "imap-port", 0, "IMAP port (993)")
	set.Flags().StringVar(&acc.SMTPHost, "smtp-host", "", "SMTP host, defaults to the provider's")
	set.Flags().IntVar(&acc.SMTPPort, "smtp-port", 0, "SMTP port (587)")

	cmd.AddCommand(set, &cobra.Command{
		Use:   "delete <email>",
		Short: "Remove the credentials of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Delete(cmd.Context(), args[0])
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List the stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emails, err := a.store.Emails(cmd.Context())
			if err != nil {
				return err
			}
			for _, email := range emails {
				fmt.Fprintln(cmd.OutOrStdout(), email)
			}
			return nil
		},
	})
	return cmd
}

func (a *app) save(cmd *cobra.Command, acc *account.Account) error {
	if err := a.store.Save(cmd.Context(), acc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved\n", acc.Email)
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	if password := os.Getenv(config.EnvPrefix + "_PASSWORD"); password != "" {
		return password, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
