package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Prismer-AI/chatsession"
	"github.com/spf13/cobra"
)

var listenJSON bool

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "Print events as JSON lines")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect and stream live events",
	Long:  "Open a session and print messages, receipts, typing, presence and connection events until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		p := &eventPrinter{out: cmd.OutOrStdout(), json: listenJSON}
		p.attach(s)

		terminal := make(chan error, 1)
		s.OnError(func(err error) {
			if chatsession.IsTerminal(err) {
				select {
				case terminal <- err:
				default:
				}
			}
		})

		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = s.Connect(connectCtx, "")
		cancel()
		if chatsession.IsTerminal(err) {
			return err
		}
		if err != nil {
			// The session keeps retrying in the background.
			p.print("connect_failed", map[string]any{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return s.Disconnect()
		case err := <-terminal:
			return err
		}
	},
}

// eventPrinter renders session events as text or JSON lines.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *eventPrinter) attach(s *chatsession.Session) {
	s.OnStateChange(func(c chatsession.StateChange) {
		fields := map[string]any{"from": c.From.String(), "to": c.To.String()}
		if c.Err != nil {
			fields["cause"] = c.Err.Error()
		}
		p.print("state", fields)
	})
	s.OnReconnecting(func(attempt int, delay time.Duration) {
		p.print("reconnecting", map[string]any{"attempt": attempt, "delay": delay.String()})
	})
	s.OnMessage(func(m chatsession.Message) {
		p.print("message", map[string]any{
			"id":           m.ID,
			"conversation": m.ConversationID,
			"from":         m.SenderID,
			"content":      m.Content,
			"created_at":   m.CreatedAt.Format(time.RFC3339),
		})
	})
	s.OnMessageSent(func(m chatsession.Message) {
		p.print("sent", map[string]any{"id": m.ID, "to": m.RecipientID, "content": m.Content})
	})
	s.OnReceipt(func(r chatsession.Receipt) {
		p.print("receipt", map[string]any{"kind": r.Kind.String(), "message": r.MessageID, "read_by": r.ReadBy})
	})
	s.OnTyping(func(c chatsession.TypingChange) {
		p.print("typing", map[string]any{"user": c.UserID, "typing": c.IsTyping, "inferred": c.Synthetic, "outgoing": c.Outgoing})
	})
	s.OnPresence(func(c chatsession.PresenceChange) {
		p.print("presence", map[string]any{"user": c.UserID, "status": string(c.Status)})
	})
	s.OnError(func(err error) {
		p.print("error", map[string]any{"error": err.Error()})
	})
}

func (p *eventPrinter) print(event string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		fields["event"] = event
		b, _ := json.Marshal(fields)
		fmt.Fprintln(p.out, string(b))
		return
	}
	fmt.Fprintf(p.out, "%-13s", event)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(p.out, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(p.out)
}
