package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpulse/mailpulse"
)

type searchFlags struct {
	folder      string
	text        string
	from        []string
	to          []string
	subject     string
	since       string
	before      string
	flags       []string
	notFlags    []string
	attachments bool
	page        int
	size        int
	asJSON      bool
}

// criteria builds the search criteria. Free text alone makes a TEXT search.
func (f *searchFlags) criteria() (mailpulse.Criteria, error) {
	sc := &mailpulse.SearchCriteria{
		Senders:        f.from,
		Receivers:      f.to,
		Subject:        f.subject,
		IncludedFlags:  f.flags,
		ExcludedFlags:  f.notFlags,
		HasAttachments: f.attachments,
	}
	if f.text != "" {
		sc.Include = []string{f.text}
	}
	var err error
	if f.since != "" {
		if sc.Since, err = parseDay(f.since); err != nil {
			return nil, &mailpulse.ValidationError{Field: "since", Value: f.since, Reason: err.Error()}
		}
	}
	if f.before != "" {
		if sc.Before, err = parseDay(f.before); err != nil {
			return nil, &mailpulse.ValidationError{Field: "before", Value: f.before, Reason: err.Error()}
		}
	}

	structured := len(f.from)+len(f.to)+len(f.flags)+len(f.notFlags) > 0 ||
		f.subject != "" || f.since != "" || f.before != "" || f.attachments
	switch {
	case structured:
		return sc, sc.Validate()
	case f.text != "":
		return mailpulse.TextCriteria(f.text), nil
	default:
		return nil, nil
	}
}

// parseDay accepts 2006-01-02 and IMAP dates.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return mailpulse.ParseDate(s)
}

func newSearchCommand(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search a folder and print one page of results, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.text = args[0]
			}
			if !cmd.Flags().Changed("size") {
				f.size = a.cfg.IMAP.PageSize
			}
			return a.search(cmd, &f)
		},
	}
	cmd.Flags().StringVar(&f.folder, "folder", mailpulse.InboxName, "folder name or role (sent, trash, ...)")
	cmd.Flags().StringSliceVar(&f.from, "from", nil, "sender (repeatable)")
	cmd.Flags().StringSliceVar(&f.to, "to", nil, "receiver (repeatable)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject substring")
	cmd.Flags().StringVar(&f.since, "since", "", "messages on or after this date")
	cmd.Flags().StringVar(&f.before, "before", "", "messages before this date")
	cmd.Flags().StringSliceVar(&f.flags, "flag", nil, `required flag, e.g. \Flagged`)
	cmd.Flags().StringSliceVar(&f.notFlags, "not-flag", nil, `excluded flag, e.g. \Seen`)
	cmd.Flags().BoolVar(&f.attachments, "attachments", false, "only messages which look like they carry attachments")
	cmd.Flags().IntVar(&f.page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.size, "size", 20, "page size")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) search(cmd *cobra.Command, f *searchFlags) error {
	criteria, err := f.criteria()
	if err != nil {
		return err
	}
	client, err := a.client(cmd.Context())
	if err != nil {
		return err
	}

	result, err := client.IMAP.Search(cmd.Context(), f.folder, criteria)
	if err != nil {
		return err
	}
	mbox, err := client.IMAP.FetchPage(cmd.Context(), f.page, f.size)
	if err != nil {
		return err
	}
	if f.asJSON {
		return printJSON(cmd.OutOrStdout(), mbox)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%d messages in %s, page %d\n", result.Count(), result.Folder, mbox.Page)
	for _, email := range mbox.Emails {
		seen := " "
		if !email.HasFlag(mailpulse.FlagSeen) {
			seen = "*"
		}
		fmt.Fprintf(w, "%s%d\t%s\t%s\t%s\n", seen, email.UID, email.Date.Local().Format(time.DateOnly), email.Sender, email.Subject)
		if p := emailPreview(&email); p != "" {
			fmt.Fprintf(w, "\t\t%s\n", p)
		}
	}
	return w.Flush()
}
