package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxpilot/internal/actions"
	"github.com/teemow/inboxpilot/internal/assistant"
	"github.com/teemow/inboxpilot/internal/auth"
)

// errRequestFailed is returned when the assistant answered but the action
// did not succeed. The reply has already been printed.
var errRequestFailed = errors.New("request did not succeed")

type askFlags struct {
	configPath     string
	debugMode      bool
	conversationID string
	action         string
	fields         []string
	attachments    string
	subject        string
	accessToken    string
	refreshToken   string
	tokenExpiry    string
	jsonOutput     bool
	timeout        time.Duration
}

func newAskCmd() *cobra.Command {
	var flags askFlags

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one request to the assistant",
		Long: `Send a single request to the assistant and print its reply.

Without --action the message is classified by the configured OpenAI model
(OPENAI_API_KEY). With --action the message is only recorded and the fields
given with --field are used as they are:

  inboxpilot ask --action create_event \
    --field summary="Team sync" --field start="tomorrow at 3pm"

Google tokens are read from --access-token/--refresh-token or the
GOOGLE_ACCESS_TOKEN and GOOGLE_REFRESH_TOKEN environment variables. A refresh
token alone is enough when a client id and secret are configured.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags.configPath, flags.debugMode)
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
			return runAsk(ctx, a.assistant, cmd.OutOrStdout(), strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&flags.debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&flags.conversationID, "conversation", "", "Conversation ID (default: a new conversation)")
	cmd.Flags().StringVar(&flags.action, "action", "", "Action to run without classification ("+actionList()+")")
	cmd.Flags().StringArrayVar(&flags.fields, "field", nil, "Action field as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.attachments, "attachments", "", "Comma-separated attachment references")
	cmd.Flags().StringVar(&flags.subject, "subject", "", "User identity the credential belongs to (email)")
	cmd.Flags().StringVar(&flags.accessToken, "access-token", "", "Google access token (can also be set via GOOGLE_ACCESS_TOKEN)")
	cmd.Flags().StringVar(&flags.refreshToken, "refresh-token", "", "Google refresh token (can also be set via GOOGLE_REFRESH_TOKEN)")
	cmd.Flags().StringVar(&flags.tokenExpiry, "token-expiry", "", "Access token expiry in RFC3339 (default: one hour from now)")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the full reply as JSON")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "How long to wait for the reply")

	return cmd
}

func runAsk(ctx context.Context, svc *assistant.Service, out io.Writer, text string, flags askFlags) error {
	fields, err := parseKeyValues(flags.fields)
	if err != nil {
		return err
	}
	action := actions.Action(strings.ToLower(strings.TrimSpace(flags.action)))
	if strings.TrimSpace(text) == "" && action == "" {
		return errors.New("a message or --action is required")
	}
	cred, err := credentialFromFlags(flags, time.Now())
	if err != nil {
		return err
	}

	conversationID := flags.conversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
		fmt.Fprintf(os.Stderr, "conversation: %s\n", conversationID)
	}

	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	reply, err := svc.Handle(ctx, assistant.Request{
		ConversationID: conversationID,
		Text:           text,
		Action:         action,
		Fields:         fields,
		AttachmentRefs: parseCommaSeparatedList(flags.attachments),
		Credential:     cred,
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if flags.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reply); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, reply.Assistant.Content)
	}

	if reply.Result != nil && !reply.Result.Success {
		return errRequestFailed
	}
	return nil
}

// credentialFromFlags builds the caller's credential. A missing access
// token leaves the expiry zero so the first dispatch refreshes it.
func credentialFromFlags(flags askFlags, now time.Time) (auth.Credential, error) {
	accessToken := firstNonEmpty(flags.accessToken, os.Getenv("GOOGLE_ACCESS_TOKEN"))
	refreshToken := firstNonEmpty(flags.refreshToken, os.Getenv("GOOGLE_REFRESH_TOKEN"))

	cred := auth.Credential{
		Subject:      strings.TrimSpace(flags.subject),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if accessToken == "" {
		return cred, nil
	}

	cred.AccessTokenExpiresAt = now.Add(time.Hour)
	if flags.tokenExpiry != "" {
		expiry, err := time.Parse(time.RFC3339, flags.tokenExpiry)
		if err != nil {
			return auth.Credential{}, fmt.Errorf("invalid --token-expiry: %w", err)
		}
		cred.AccessTokenExpiresAt = expiry
	}
	return cred, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func actionList() string {
	names := make([]string, 0, len(actions.Actions()))
	for _, a := range actions.Actions() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
