package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse"
)

func newFoldersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List, create, rename and delete folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			folders, err := client.IMAP.Folders(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range folders {
				role := ""
				if f.Role != mailpulse.FolderRoleNone {
					role = string(f.Role)
				}
				attrs := make([]string, len(f.Attrs))
				for i, attr := range f.Attrs {
					attrs[i] = string(attr)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, role, strings.Join(attrs, " "))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.CreateFolder(cmd.Context(), args[0])
			return printResult(cmd, msg, err)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.RenameFolder(cmd.Context(), args[0], args[1])
			return printResult(cmd, msg, err)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "move <name> [new-parent]",
		Short: "Move a folder under another one, or to the top level",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			parent := ""
			if len(args) == 2 {
				parent = args[1]
			}
			msg, err := client.IMAP.MoveFolder(cmd.Context(), args[0], parent)
			return printResult(cmd, msg, err)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.IMAP.DeleteFolder(cmd.Context(), args[0])
			return printResult(cmd, msg, err)
		},
	})
	return cmd
}
