package main

import (
	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse"
)

// newMessageCommands returns the commands acting on a UID set of a folder.
func newMessageCommands(a *app) []*cobra.Command {
	var folder string
	del := &cobra.Command{
		Use:   "delete <uid-set>",
		Short: "Move messages to Trash and delete them there",
		Long: `Move the messages of a UID set (e.g. "4", "1,3:6", "10:*") to the
Trash folder and remove them from it. Messages already in Trash are
removed in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.Delete(cmd.Context(), folder, args[0])
			return printResult(cmd, msg, err)
		},
	}

	var copyOnly bool
	move := &cobra.Command{
		Use:   "move <uid-set> <destination>",
		Short: "Move or copy messages to another folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			var msg string
			if copyOnly {
				msg, err = client.IMAP.Copy(cmd.Context(), folder, args[1], args[0])
			} else {
				msg, err = client.IMAP.Move(cmd.Context(), folder, args[1], args[0])
			}
			return printResult(cmd, msg, err)
		},
	}
	move.Flags().BoolVar(&copyOnly, "copy", false, "copy instead of moving")

	var flag string
	mark := &cobra.Command{
		Use:   "mark <uid-set>",
		Short: "Add a flag to messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.Mark(cmd.Context(), folder, args[0], flag)
			return printResult(cmd, msg, err)
		},
	}
	unmark := &cobra.Command{
		Use:   "unmark <uid-set>",
		Short: "Remove a flag from messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.Unmark(cmd.Context(), folder, args[0], flag)
			return printResult(cmd, msg, err)
		},
	}
	for _, c := range []*cobra.Command{mark, unmark} {
		c.Flags().StringVar(&flag, "flag", "seen", `flag name: seen, flagged, answered, draft, deleted or a keyword`)
	}

	expunge := &cobra.Command{
		Use:   "expunge",
		Short: "Permanently remove the messages flagged as deleted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.Expunge(cmd.Context(), folder)
			return printResult(cmd, msg, err)
		},
	}

	cmds := []*cobra.Command{del, move, mark, unmark, expunge}
	for _, c := range cmds {
		c.Flags().StringVar(&folder, "folder", mailpulse.InboxName, "folder name or role")
	}
	return cmds
}
