package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Prismer-AI/chatsession"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	sendTimeout time.Duration

	// typing
	typingStop bool

	// presence
	presenceWait time.Duration
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 15*time.Second, "Time allowed to connect and get the server ack")
	typingCmd.Flags().BoolVar(&typingStop, "stop", false, "Send a stopped-typing signal")
	presenceCmd.Flags().DurationVar(&presenceWait, "wait", 3*time.Second, "How long to wait for the presence answer")

	rootCmd.AddCommand(typingCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(presenceCmd)
	rootCmd.AddCommand(sendCmd)
}

// ============================================================================
// typing / read / send
// ============================================================================

var typingCmd = &cobra.Command{
	Use:   "typing <recipient-id>",
	Short: "Send a typing signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := parseID(args[0])
		if err != nil {
			return err
		}
		return deliver(cmd, chatsession.Typing{RecipientID: recipient, IsTyping: !typingStop})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Mark a message as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return deliver(cmd, chatsession.MessageRead{MessageID: id})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <recipient-id> <content>",
	Short: "Send a chat message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := parseID(args[0])
		if err != nil {
			return err
		}
		return deliver(cmd, chatsession.SendChat{RecipientID: recipient, Content: args[1]})
	},
}

// deliver connects, sends msg, waits for the ack and disconnects.
func deliver(cmd *cobra.Command, msg chatsession.ClientMessage) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	outcome, err := s.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.FrameType(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.FrameType(), outcome)
	return s.Disconnect()
}

// ============================================================================
// presence
// ============================================================================

var presenceCmd = &cobra.Command{
	Use:   "presence <user-id>...",
	Short: "Ask for the presence of users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.Close()

		answered := make(chan chatsession.PresenceChange, len(ids))
		s.OnPresence(func(c chatsession.PresenceChange) {
			select {
			case answered <- c:
			default:
			}
		})

		if err := s.Connect(ctx, ""); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if _, err := s.CheckPresence(ctx, ids...); err != nil {
			return fmt.Errorf("presence_check: %w", err)
		}

		seen := map[int64]chatsession.PresenceStatus{}
		timeout := time.After(presenceWait)
	wait:
		for len(seen) < len(ids) {
			select {
			case c := <-answered:
				seen[c.UserID] = c.Status
			case <-timeout:
				break wait
			}
		}

		out := cmd.OutOrStdout()
		for _, id := range ids {
			status, ok := seen[id]
			if !ok {
				status = "unknown"
			}
			fmt.Fprintf(out, "%d\t%s\n", id, status)
		}
		return s.Disconnect()
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
