package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxpilot/internal/conversation"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
		limit      int
		follow     bool
	)

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the messages of a conversation",
		Long: `Print the messages of a conversation, oldest first, from the configured
store. Only persistent backends (postgres, sqlite, dynamodb) keep history
between runs. With --follow new messages are printed as they are committed
until the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if follow {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return followHistory(ctx, a.store, logger, cmd.OutOrStdout(), args[0], limit, jsonOutput)
			}

			messages, err := a.store.LoadHistory(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			return printHistory(cmd.OutOrStdout(), messages, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print messages as JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only print the newest N messages (0 = all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new messages")

	return cmd
}

// followHistory prints the conversation and then every message committed
// afterwards, each exactly once, until ctx ends.
func followHistory(ctx context.Context, store conversation.Store, logger *slog.Logger, out io.Writer, conversationID string, limit int, jsonOutput bool) error {
	tl, err := conversation.OpenTimeline(ctx, store, conversationID, logger)
	if err != nil {
		return err
	}
	defer tl.Close()

	printed := make(map[string]struct{})
	flush := func(limit int) error {
		var fresh []conversation.Message
		for _, m := range tl.Messages() {
			if _, ok := printed[m.ID]; ok {
				continue
			}
			printed[m.ID] = struct{}{}
			fresh = append(fresh, m)
		}
		if len(fresh) == 0 {
			return nil
		}
		return printHistory(out, fresh, limit, jsonOutput)
	}

	if err := flush(limit); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tl.Updates():
			if err := flush(0); err != nil {
				return err
			}
		}
	}
}

func printHistory(out io.Writer, messages []conversation.Message, limit int, jsonOutput bool) error {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	if jsonOutput {
		if messages == nil {
			messages = []conversation.Message{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	}

	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}
	for _, m := range messages {
		role := "assistant"
		if m.IsUser {
			role = "user"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format(time.DateTime), role, m.Content)
		if m.Action != "" {
			line += fmt.Sprintf(" (%s)", m.Action)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
