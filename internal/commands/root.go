package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/notify"
	"chatsync/internal/session"

	"github.com/spf13/cobra"
)

// IO holds the streams the commands read from and write to.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type app struct {
	io         IO
	configPath string
	cfg        *config.Config
	opts       session.Options
}

// NewRootCommand builds the chatsync command tree. opts is passed to every
// session the commands open; its Notifier defaults to printing on io.Err.
func NewRootCommand(streams IO, opts session.Options) *cobra.Command {
	a := &app{io: streams, opts: opts}
	if a.opts.Notifier == nil {
		a.opts.Notifier = notify.NewWriter(streams.Err)
	}

	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Chat client for the hotel booking API",
		Long:          "Chat with hotels, guests and admins of the booking platform from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			slog.SetDefault(slog.New(slog.NewTextHandler(streams.Err, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
			if cfg.TokenExpired(time.Now()) {
				slog.Warn("session token has expired, sign in again", "expired", cfg.TokenExpires)
			}
			return nil
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a TOML config file")

	root.AddCommand(
		a.chatCommand(),
		a.inboxCommand(),
		a.unreadCommand(),
		a.exportCommand(),
		a.logoutCommand(),
	)
	return root
}

func (a *app) openSession(ctx context.Context) (*session.Session, error) {
	s, err := session.New(ctx, a.cfg, a.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return s, nil
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove locally saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Logout(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.io.Out, "Logged out, local history removed.")
			return nil
		},
	}
}
