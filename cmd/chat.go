/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"

	"github.com/knowyouranimal/kya/internal/kya/chat"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/spf13/cobra"
)

var (
	model           string
	useEditor       bool
	conversationRef string
	newConversation bool
	direct          bool
	render          bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the veterinary assistant a question",
	Long: `Send a message to the Know Your Animal assistant and stream the reply.

Every question is kept in the conversation history. Without --conversation
a new conversation is started; pass an ID (or "latest") to continue one.

For interactive multi-turn conversations, use 'kya conversations start' instead.

If no message is provided as an argument, it reads from stdin.
If --editor flag is set, it opens the default editor (from EDITOR environment variable) to compose the message.

Replies come from the chat proxy at chat_url. With --direct the upstream
model is called directly using upstream_token.

Examples:
  kya chat "My cow has a fever and is not eating"
  kya chat -c latest "She also has a runny nose"
  echo "How often should I deworm goats?" | kya chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if conversationRef != "" && newConversation {
			return fmt.Errorf("cannot specify both --conversation and --new")
		}
		if cmd.Flags().Changed("model") {
			cfg.Model = model
		}

		var message string
		if useEditor {
			message, err = getMessageFromEditor()
			if err != nil {
				return fmt.Errorf("getting message from editor: %w", err)
			}
		} else if len(args) > 0 {
			message = strings.Join(args, " ")
		} else {
			input, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading from stdin: %w", err)
			}
			message = strings.TrimSpace(string(input))
		}
		if strings.TrimSpace(message) == "" {
			return chat.ErrEmptyMessage
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		store, closeStore, err := openHistory(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer closeStore()

		streamer, err := newStreamer(ctx, cfg, direct)
		if err != nil {
			return fmt.Errorf("creating chat client: %w", err)
		}

		ctrl := chat.New(store, streamer, chat.WithLogger(logger))
		defer ctrl.Close()

		if conversationRef != "" {
			conv, err := store.Find(conversationRef)
			if err != nil {
				return fmt.Errorf("finding conversation: %w", err)
			}
			ctrl.Select(conv.ID)
			if verbose {
				fmt.Fprintf(os.Stderr, "Continuing conversation: %s (%s)\n", conv.ShortID(), conv.Title)
			}
		} else {
			ctrl.NewChat()
		}

		useRender := render
		if !cmd.Flags().Changed("render") {
			useRender = stdoutIsTerminal()
		}
		out, err := newReplyPrinter(os.Stdout, useRender)
		if err != nil {
			return err
		}
		unsubscribe := ctrl.OnChange(out.onChange)
		defer unsubscribe()

		sendErr := ctrl.Send(ctx, message)
		snap := ctrl.Snapshot()
		out.finish(snap)

		if snap.ConversationID != "" {
			if conv, ok := store.Get(snap.ConversationID); ok && conversationRef == "" {
				fmt.Fprintf(os.Stderr, "\nConversation created: %s\n", conv.ShortID())
				fmt.Fprintf(os.Stderr, "\nNext time, use:\n  kya chat -c %s \"your message\"\n", conv.ShortID())
				fmt.Fprintf(os.Stderr, "For interactive mode, use:\n  kya conversations start %s\n", conv.ShortID())
			}
		}

		if sendErr != nil {
			return fmt.Errorf("chat request failed: %w", sendErr)
		}
		return nil
	},
}

// getMessageFromEditor opens the default editor and returns the edited message
func getMessageFromEditor() (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return "", fmt.Errorf("EDITOR environment variable is not set")
	}

	tmpFile, err := os.CreateTemp("", "kya-*.md")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	cmd := exec.Command(editor, tmpFile.Name())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to open editor: %w", err)
	}

	content, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read edited content: %w", err)
	}

	return strings.TrimSpace(string(content)), nil
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&model, "model", "m", "", "Upstream model to use with --direct (default from config)")
	chatCmd.Flags().BoolVarP(&useEditor, "editor", "e", false, "Use default editor (from EDITOR environment variable) to compose message")
	chatCmd.Flags().StringVarP(&conversationRef, "conversation", "c", "", "Conversation ID (short or full, or 'latest' for most recent conversation)")
	chatCmd.Flags().BoolVarP(&newConversation, "new", "n", false, "Start a new conversation (default unless --conversation is set)")
	chatCmd.Flags().BoolVar(&direct, "direct", false, "Call the upstream model directly instead of the chat proxy")
	chatCmd.Flags().BoolVarP(&render, "render", "r", false, "Render the reply as markdown (default when stdout is a terminal)")
}
