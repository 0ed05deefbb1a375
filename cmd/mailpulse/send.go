package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse/mailclient"
)

func newSendCommand(a *app) *cobra.Command {
	var draft mailclient.Draft
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the account's SMTP server",
		Long: `Send a message. The text body is read from --text, or from standard
input when --text is "-". Attachments are file paths, http(s) URLs or
base64 data URIs; inline attachments that fail to resolve are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if draft.Text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				draft.Text = string(b)
			}
			if bodyFile != "" {
				att, err := a.options.Resolver.Resolve(cmd.Context(), bodyFile)
				if err != nil {
					return err
				}
				draft.HTML = string(att.Content)
			}
			if draft.InReplyTo != "" && len(draft.References) == 0 {
				draft.References = []string{draft.InReplyTo}
			}

			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := client.Send(cmd.Context(), &draft)
			if err == nil {
				msg = fmt.Sprintf("%s (Message-ID <%s>)", msg, strings.Trim(draft.MessageID, "<>"))
			}
			return printResult(cmd, msg, err)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&draft.To, "to", nil, "recipient (repeatable)")
	f.StringSliceVar(&draft.Cc, "cc", nil, "carbon copy recipient (repeatable)")
	f.StringSliceVar(&draft.Bcc, "bcc", nil, "blind carbon copy recipient (repeatable)")
	f.StringVar(&draft.From, "from", "", "sender, defaults to the account address")
	f.StringVar(&draft.Subject, "subject", "", "subject")
	f.StringVar(&draft.Text, "text", "", `plain text body, "-" reads standard input`)
	f.StringVar(&draft.HTML, "html", "", "HTML body")
	f.StringVar(&bodyFile, "html-file", "", "read the HTML body from a file or URL")
	f.StringVar(&draft.InReplyTo, "in-reply-to", "", "Message-ID of the message replied to")
	f.StringSliceVar(&draft.AttachmentRefs, "attach", nil, "attachment path, URL or data URI (repeatable)")
	f.StringSliceVar(&draft.InlineRefs, "inline", nil, "inline attachment path, URL or data URI (repeatable)")
	return cmd
}
