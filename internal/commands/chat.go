package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatsync/internal/chat"
	"chatsync/internal/content"
	chathttp "chatsync/internal/http"
	"chatsync/internal/models"
	"chatsync/internal/session"
	"chatsync/internal/ws"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) chatCommand() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "chat <counterpart-id>",
		Short: "Open a live conversation",
		Long: `Open a live conversation with a counterpart. Every line typed is sent
as a message. Commands: /typing, /read, /search <term>, /quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := content.ValidateID(id); err != nil {
				return err
			}
			toRole := models.Role(role)
			if !toRole.Valid() {
				return fmt.Errorf("invalid role %q", role)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			p := newPrinter(a.io.Out, a.cfg.UserID, id)
			s.Chat().OnChange(p.render)
			s.OnSearchResults(p.searchResults)

			if err := s.Start(); err != nil {
				slog.Warn("continuing offline", "error", err)
			}
			s.Chat().Select(id, toRole)

			g, gCtx := errgroup.WithContext(ctx)

			if a.cfg.MetricsAddr != "" {
				metrics := chathttp.NewMetricsServer(a.cfg.MetricsAddr)
				g.Go(metrics.Start)
				g.Go(func() error {
					<-gCtx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return metrics.Shutdown(shutdownCtx)
				})
			}

			g.Go(func() error {
				defer cancel()
				return a.readInput(gCtx, s, id, toRole, p)
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.RoleVendor), "role of the counterpart (user, vendor, admin)")
	return cmd
}

// readInput sends every input line until EOF, /quit or ctx is done.
func (a *app) readInput(ctx context.Context, s *session.Session, id string, toRole models.Role, p *printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.io.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r := s.Chat()
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		var err error
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/typing":
			err = r.SendTyping(id, toRole)
		case line == "/read":
			err = r.SendReadReceipt(id, a.cfg.UserID, toRole)
		case strings.HasPrefix(line, "/search"):
			s.Search(strings.TrimSpace(strings.TrimPrefix(line, "/search")))
		default:
			err = r.SendMessage(id, toRole, line)
		}
		if err != nil {
			p.sendFailed(err)
		}
	}
}

// printer renders reconciler views as terminal lines, printing every
// message once.
type printer struct {
	w       io.Writer
	localID string
	peerID  string

	mu        sync.Mutex
	printed   map[string]struct{}
	typing    bool
	offline   bool
	connected bool
	unread    map[string]int
}

func newPrinter(w io.Writer, localID, peerID string) *printer {
	return &printer{
		w:       w,
		localID: localID,
		peerID:  peerID,
		printed: make(map[string]struct{}),
		unread:  make(map[string]int),
	}
}

func (p *printer) render(v chat.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Connected != p.connected {
		p.connected = v.Connected
		if v.Connected {
			p.line("(connected)")
		} else {
			p.line("(disconnected)")
		}
	}

	if v.SelectedID != p.peerID {
		return
	}

	if v.Offline && !p.offline {
		if v.SavedAt.IsZero() {
			p.line("(showing saved history)")
		} else {
			p.line(fmt.Sprintf("(showing history saved %s)", v.SavedAt.Format("Jan 2 15:04")))
		}
	}
	p.offline = v.Offline

	for _, m := range v.Combined {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		name := m.FromID
		if m.FromID == p.localID {
			name = "you"
		}
		ts := time.UnixMilli(m.Timestamp).Format("15:04")
		p.line(fmt.Sprintf("[%s] %s: %s", ts, name, content.PlainText(m.Message)))
	}

	if v.Typing && !p.typing {
		p.line(fmt.Sprintf("(%s is typing…)", p.peerID))
	}
	p.typing = v.Typing

	for id, n := range v.LiveUnread {
		if n > p.unread[id] {
			p.line(fmt.Sprintf("(new message from %s, %d unread)", id, n))
		}
	}
	p.unread = v.LiveUnread
}

func (p *printer) searchResults(res session.SearchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res.Err != nil {
		return
	}
	if len(res.Counterparts) == 0 {
		p.line(fmt.Sprintf("(no conversations match %q)", res.Term))
		return
	}
	for _, c := range res.Counterparts {
		p.line(fmt.Sprintf("  %s  %s  (%d unread)", c.ID, content.PlainText(c.Name), c.UnreadCount))
	}
}

func (p *printer) sendFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if errors.Is(err, ws.ErrNotConnected) {
		p.line("(not sent: offline)")
		return
	}
	p.line("(not sent: " + err.Error() + ")")
}

func (p *printer) line(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}
