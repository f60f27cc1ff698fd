package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"chatsync/internal/content"

	"github.com/spf13/cobra"
)

func (a *app) inboxCommand() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			list, err := s.Chat().Inbox(cmd.Context(), search)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(a.io.Out, "No conversations.")
				return nil
			}

			w := tabwriter.NewWriter(a.io.Out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tROLE\tUNREAD\tLAST MESSAGE")
			for _, c := range list {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					c.ID, content.PlainText(c.Name), c.Role, c.UnreadCount, preview(c.LastMessage, c.LastMessageAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter conversations by name")
	return cmd
}

func preview(text string, at int64) string {
	text = content.PlainText(text)
	if r := []rune(text); len(r) > 40 {
		text = string(r[:39]) + "…"
	}
	if at == 0 {
		return text
	}
	return fmt.Sprintf("%s (%s)", text, time.UnixMilli(at).Format("Jan 2 15:04"))
}

func (a *app) unreadCommand() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show or clear the total unread count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if reset {
				if err := s.Chat().ClearUnreadTotal(cmd.Context()); err != nil {
					return err
				}
			}
			total, err := s.Chat().UnreadTotal(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.io.Out, "Unread messages: %d\n", total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "clear", false, "mark everything as read first")
	return cmd
}
