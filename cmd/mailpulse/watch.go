package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/eventstore"
	"github.com/mailpulse/mailpulse/imapclient"
	"github.com/mailpulse/mailpulse/imapresp"
)

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Wait for new mail in INBOX with IDLE and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd)
		},
	}
	return cmd
}

func (a *app) watch(cmd *cobra.Command) error {
	ctx := cmd.Context()

	notify := make(chan struct{}, 1)
	var recorder *eventstore.Recorder
	if a.cfg.EventStore.Path != "" {
		store, err := eventstore.Open(a.cfg.EventStore.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if n, err := store.Prune(ctx, time.Now().Add(-a.cfg.EventStore.Retention)); err != nil {
			a.logger.Warn().Err(err).Msg("failed to prune events")
		} else if n > 0 {
			a.logger.Debug().Int64("events", n).Msg("pruned old events")
		}
		recorder = store.NewRecorder(a.email, &a.logger)
		defer recorder.Close()
	}

	a.options.IMAP.ListenNewMail = true
	a.options.OnNewMail = func(email string, ev imapclient.NewMailEvent) {
		if recorder != nil {
			recorder.Handle(ev)
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	if err := client.IMAP.Idle(ctx); err != nil {
		return err
	}
	a.logger.Info().Str("account", client.Email).Msg("watching INBOX")

	for {
		select {
		case <-ctx.Done():
			doneCtx, cancel := context.WithTimeout(context.Background(), a.cfg.IMAP.CommandTimeout)
			defer cancel()
			return client.IMAP.Done(doneCtx)
		case <-notify:
		}

		emails, err := client.IMAP.RecentEmails(ctx)
		if err != nil {
			a.logger.Error().Err(err).Msg("failed to fetch new mail")
			if !client.Alive() {
				return err
			}
			continue
		}
		for _, email := range emails {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s  %s\n    %s\n",
				email.Date.Local().Format(time.DateTime), email.Sender, email.Subject, emailPreview(&email))
		}
	}
}

// emailPreview prefers the preview computed for plain text bodies.
func emailPreview(email *mailpulse.Email) string {
	if email.Preview != "" {
		return preview(email.Preview)
	}
	return preview(email.Body)
}

func preview(body string) string {
	s := imapresp.Sanitize(body)
	if r := []rune(s); len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return s
}
