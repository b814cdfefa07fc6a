package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxpilot/internal/conversation"
	"github.com/teemow/inboxpilot/internal/logging"
)

type postFlags struct {
	configPath string
	assistant  bool
	retry      time.Duration
	timeout    time.Duration
	jsonOutput bool
}

func newPostCmd() *cobra.Command {
	var flags postFlags

	cmd := &cobra.Command{
		Use:   "post <conversation-id> <message>",
		Short: "Add a message to a conversation without running an action",
		Long: `Add a message to a conversation and print the conversation as it now stands.

When the store cannot be reached the message is shown as pending under a
temporary id and retried until it is recorded or --timeout passes.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags.configPath, false)
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

			draft := conversation.Draft{
				Content: strings.Join(args[1:], " "),
				IsUser:  !flags.assistant,
			}
			return runPost(ctx, a.store, logger, cmd.OutOrStdout(), args[0], draft, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&flags.assistant, "as-assistant", false, "Record the message as the assistant's")
	cmd.Flags().DurationVar(&flags.retry, "retry", 2*time.Second, "Interval between attempts while the store is unavailable")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", time.Minute, "How long to keep retrying a pending message")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print messages as JSON")

	return cmd
}

func runPost(ctx context.Context, store conversation.Store, logger *slog.Logger, out io.Writer, conversationID string, draft conversation.Draft, flags postFlags) error {
	if strings.TrimSpace(draft.Content) == "" {
		return errors.New("message is empty")
	}
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	tl, err := conversation.OpenTimeline(ctx, store, conversationID, logger)
	if err != nil {
		return err
	}
	defer tl.Close()

	msg, err := tl.Send(ctx, draft)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	if msg.Temporary() {
		fmt.Fprintf(out, "pending: %s\n", msg.ID)
		if err := reconcileTimeline(ctx, tl, flags.retry, logger); err != nil {
			return fmt.Errorf("message %s was not recorded: %w", msg.ID, err)
		}
		if id, ok := tl.ResolveID(msg.ID); ok {
			fmt.Fprintf(out, "recorded: %s\n", id)
		}
	}
	return printHistory(out, tl.Messages(), 0, flags.jsonOutput)
}

// reconcileTimeline retries pending messages every interval until none are
// left or ctx ends.
func reconcileTimeline(ctx context.Context, tl *conversation.Timeline, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tl.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := tl.Reconcile(ctx); err != nil {
			if !conversation.IsUnavailable(err) {
				return err
			}
			logger.Debug("store still unavailable", logging.Err(err))
		}
	}
	return nil
}
