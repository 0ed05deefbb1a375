package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse"
)

func newShowCommand(a *app) *cobra.Command {
	var folder, save, outDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <uid>",
		Short: "Print one message, or save one of its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return &mailpulse.ValidationError{Field: "uid", Value: args[0], Reason: "not a number"}
			}
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}

			if save != "" {
				att, err := client.IMAP.FetchAttachment(cmd.Context(), folder, uint32(uid), save)
				if err != nil {
					return err
				}
				path := filepath.Join(outDir, filepath.Base(att.Name))
				if err := os.WriteFile(path, att.Content, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, att.Size)
				return nil
			}

			email, err := client.IMAP.FetchEmail(cmd.Context(), folder, uint32(uid))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), email)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "From:    %s\n", email.Sender)
			fmt.Fprintf(w, "To:      %s\n", strings.Join(email.Receivers, ", "))
			if len(email.Cc) > 0 {
				fmt.Fprintf(w, "Cc:      %s\n", strings.Join(email.Cc, ", "))
			}
			fmt.Fprintf(w, "Date:    %s\n", email.Date.Local().Format("Mon, 02 Jan 2006 15:04"))
			fmt.Fprintf(w, "Subject: %s\n", email.Subject)
			fmt.Fprintf(w, "Flags:   %s\n", strings.Join(email.Flags, " "))
			for _, att := range email.Attachments {
				fmt.Fprintf(w, "Attach:  %s (%s, %d bytes)\n", att.Name, att.MIMEType, att.Size)
			}
			fmt.Fprintf(w, "\n%s\n", email.Body)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", mailpulse.InboxName, "folder name or role")
	cmd.Flags().StringVar(&save, "save", "", "name of the attachment to save")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory attachments are saved to")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
