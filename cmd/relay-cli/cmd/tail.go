package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/relay/internal/client"
	"github.com/nfrund/relay/internal/events"
)

var (
	tailServer string
	tailToken  string
	tailChats  []string
	tailRetry  int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Connect to a server and print the live event stream",
	Long: `Open a socket to a relay server and print every event it sends, one per
line. The connection is re-established with backoff until interrupted.

Examples:
  relay-cli tail --token $TOKEN
  relay-cli tail --server ws://chat.example.com/ws --token $TOKEN --chat 1234`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := &eventPrinter{w: cmd.OutOrStdout()}
		m := client.NewManager(tailServer, tailToken,
			client.WithListener(out),
			client.WithMaxRetries(tailRetry),
			client.WithStateHook(func(s client.State, err error) {
				if err != nil {
					slog.Warn("Connection state changed", "state", s.String(), "error", err)
					return
				}
				slog.Info("Connection state changed", "state", s.String())
			}),
		)
		for _, id := range tailChats {
			if err := m.JoinChat(ctx, id); err != nil {
				return err
			}
		}
		return m.Run(ctx)
	},
}

// eventPrinter writes each server event as "<kind> <fields>".
type eventPrinter struct {
	client.NopListener
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) printf(kind events.Kind, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%-18s "+format+"\n", append([]any{kind}, args...)...)
}

func (p *eventPrinter) NewMessage(e events.NewMessage) {
	p.printf(e.Kind(), "chat=%s from=%s %q", e.ChatID, e.Message.Sender, e.Message.Content)
}

func (p *eventPrinter) UserTyping(e events.UserTyping) {
	p.printf(e.Kind(), "chat=%s user=%s", e.ChatID, e.UserName)
}

func (p *eventPrinter) UserStopTyping(e events.UserStopTyping) {
	p.printf(e.Kind(), "chat=%s user=%s", e.ChatID, e.UserName)
}

func (p *eventPrinter) ChatUpdated(e events.ChatUpdated) {
	p.printf(e.Kind(), "chat=%s %s", e.ChatID, e.Update)
}

func (p *eventPrinter) Notification(e events.Notification) {
	p.printf(e.Kind(), "%s", e.Payload)
}

func (p *eventPrinter) UserStatusChange(e events.UserStatusChange) {
	p.printf(e.Kind(), "user=%s status=%s", e.UserID, e.Status)
}

func (p *eventPrinter) Connected(e events.Connected) {
	p.printf(e.Kind(), "conn=%s user=%s rooms=%v degraded=%t", e.ConnectionID, e.UserID, e.Rooms, e.Degraded)
}

func (p *eventPrinter) AuthError(e events.AuthError) {
	p.printf(e.Kind(), "%s", e.Message)
}

func init() {
	tailCmd.Flags().StringVar(&tailServer, "server", "ws://localhost:8080/ws", "socket endpoint of the server")
	tailCmd.Flags().StringVar(&tailToken, "token", "", "bearer token to connect with")
	tailCmd.Flags().StringArrayVar(&tailChats, "chat", nil, "chat to join after connecting (repeatable)")
	tailCmd.Flags().IntVar(&tailRetry, "retries", client.DefaultMaxRetries, "reconnect attempts before giving up")
	_ = tailCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(tailCmd)
}
