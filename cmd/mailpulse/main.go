// Command mailpulse watches, searches and manages IMAP mailboxes and sends
// mail through the account's SMTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse/account"
	"github.com/mailpulse/mailpulse/config"
	"github.com/mailpulse/mailpulse/mailclient"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	configPath string
	email      string

	cfg      *config.Config
	logger   zerolog.Logger
	store    *account.KeyringStore
	registry *mailclient.Registry
	options  *mailclient.Options
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logger(cmd.ErrOrStderr())

	ring, err := account.OpenKeyring(cfg.KeyringOptions())
	if err != nil {
		return err
	}
	a.store = account.NewKeyringStore(ring)
	a.options = cfg.MailOptions(&a.logger)
	a.registry = mailclient.NewRegistry(a.store, a.options)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.registry == nil {
		return nil
	}
	return a.registry.CloseAll(ctx)
}

// client connects the account selected with --account.
func (a *app) client(ctx context.Context) (*mailclient.Client, error) {
	if a.email == "" {
		return nil, fmt.Errorf("no account selected, use --account or %s_ACCOUNT", config.EnvPrefix)
	}
	return a.registry.Open(ctx, a.email)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes the outcome envelope and returns err so that the
// process exit status reflects it.
func printResult(cmd *cobra.Command, msg string, err error) error {
	if perr := printJSON(cmd.OutOrStdout(), mailclient.ResultOf(msg, err)); perr != nil {
		return perr
	}
	return err
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{email: os.Getenv(config.EnvPrefix + "_ACCOUNT")}

	root := &cobra.Command{
		Use:           "mailpulse",
		Short:         "IMAP mailbox monitor and mail client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/mailpulse/config.yaml)")
	root.PersistentFlags().StringVarP(&a.email, "account", "a", a.email, "account address")

	root.AddCommand(
		newWatchCommand(a),
		newSearchCommand(a),
		newShowCommand(a),
		newFoldersCommand(a),
		newSendCommand(a),
		newAccountCommand(a),
		newEventsCommand(a),
	)
	root.AddCommand(newMessageCommands(a)...)
	return root, a
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(context.Background()); terr != nil {
		a.logger.Warn().Err(terr).Msg("failed to disconnect")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
