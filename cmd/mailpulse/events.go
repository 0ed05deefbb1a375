package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse/eventstore"
)

func newEventsCommand(a *app) *cobra.Command {
	var since time.Duration
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the new mail events recorded by watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.EventStore.Path == "" {
				return errors.New("event_store.path is not configured")
			}
			store, err := eventstore.Open(a.cfg.EventStore.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := eventstore.Filter{Limit: limit}
			if !all {
				filter.Account = a.email
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			events, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s  %s  +%d (%d total)\n",
					ev.ReceivedAt.Local().Format(time.DateTime), ev.Account, ev.Folder, ev.New(), ev.Count)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&all, "all", false, "events of every account")
	return cmd
}
