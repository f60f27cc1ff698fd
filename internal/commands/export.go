package commands

import (
	"fmt"
	"log/slog"
	"os"

	"chatsync/internal/content"

	"github.com/spf13/cobra"
)

func (a *app) exportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <counterpart-id>",
		Short: "Export a conversation as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := content.ValidateID(id); err != nil {
				return err
			}

			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			msgs, err := s.Chat().History(cmd.Context(), id)
			if err != nil {
				return err
			}

			names := map[string]string{a.cfg.UserID: "You"}
			title := "Conversation with " + id
			if list, err := s.Chat().Inbox(cmd.Context(), ""); err != nil {
				slog.Warn("counterpart names unavailable", "error", err)
			} else {
				for _, c := range list {
					if c.ID == id && c.Name != "" {
						names[id] = c.Name
						title = "Conversation with " + c.Name
					}
				}
			}

			html, err := content.RenderTranscript(title, msgs, names)
			if err != nil {
				return err
			}

			if output == "" {
				_, err = fmt.Fprintln(a.io.Out, html)
				return err
			}
			if err := os.WriteFile(output, []byte(html), 0o644); err != nil {
				return fmt.Errorf("failed to write transcript: %w", err)
			}
			_, _ = fmt.Fprintf(a.io.Out, "Exported %d messages to %s\n", len(msgs), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
