package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/kya/chat"
	"github.com/knowyouranimal/kya/internal/kya/config"
	"github.com/knowyouranimal/kya/internal/kya/history"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultRetentionDays = 30

// messageSummary formats a message count with the number of questions asked.
func messageSummary(msgs []kya.Message) string {
	questions := kya.CountRole(msgs, kya.RoleUser)
	if questions == 1 {
		return fmt.Sprintf("%d (1 question)", len(msgs))
	}
	return fmt.Sprintf("%d (%d questions)", len(msgs), questions)
}

var assumeYes bool

// conversationsCmd represents the conversations command
var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage saved conversations",
	Long: `Manage saved conversations including listing, viewing, and deleting them.

Conversations are kept in the history backend configured by history_backend,
most recently updated first.`,
}

// conversationsListCmd represents the conversations list command
var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	Long:  `List all conversations sorted by most recently updated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
			convs := store.List()
			if len(convs) == 0 {
				fmt.Println("No conversations found.")
				fmt.Println("\nStart a new conversation with:")
				fmt.Println("  kya chat \"your question\"")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPDATED\tMESSAGES\tTITLE")
			fmt.Fprintln(w, "--\t-------\t--------\t-----")
			for _, conv := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					conv.ShortID(),
					conv.Updated().Format("2006-01-02 15:04"),
					messageSummary(conv.Messages),
					conv.Title,
				)
			}
			w.Flush()

			fmt.Println("\nUse 'kya conversations show <id>' to view a conversation.")
			return nil
		})
	},
}

// conversationsShowCmd represents the conversations show command
var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation",
	Long: `Show a conversation and all of its messages.

The ID can be a short ID (minimum 4 characters), full ID, or "latest" for the most recent conversation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
			conv, err := store.Find(args[0])
			if err != nil {
				return fmt.Errorf("finding conversation: %w", err)
			}

			fmt.Printf("Conversation: %s\n", conv.ID)
			fmt.Printf("Title: %s\n", conv.Title)
			fmt.Printf("Updated: %s\n", conv.Updated().Format("2006-01-02 15:04:05"))
			fmt.Printf("Messages: %s\n", messageSummary(conv.Messages))
			fmt.Println()

			if len(conv.Messages) == 0 {
				fmt.Println("No messages in this conversation.")
				return nil
			}

			useRender := render
			if !cmd.Flags().Changed("render") {
				useRender = stdoutIsTerminal()
			}
			r, err := newReplyPrinter(os.Stdout, useRender)
			if err != nil {
				return err
			}

			fmt.Println("Message History:")
			fmt.Println("----------------")
			for i, msg := range conv.Messages {
				fmt.Printf("\n[%d] %s:\n", i+1, roleLabel(msg.Role))
				if msg.Role == kya.RoleAssistant {
					fmt.Println(strings.TrimRight(renderMarkdown(r.renderer, msg.Content), "\n"))
				} else {
					fmt.Println(msg.Content)
				}
			}

			fmt.Printf("\nContinue this conversation with:\n  kya chat -c %s \"your message\"\n", conv.ShortID())
			return nil
		})
	},
}

// conversationsDeleteCmd represents the conversations delete command
var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Long: `Delete a conversation permanently.

The ID can be a short ID (minimum 4 characters), full ID, or "latest" for the most recent conversation.

Warning: This action cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
			conv, err := store.Find(args[0])
			if err != nil {
				return fmt.Errorf("finding conversation: %w", err)
			}

			if !confirm(fmt.Sprintf("Are you sure you want to delete conversation %s (%s)?", conv.ShortID(), conv.Title)) {
				fmt.Println("Deletion cancelled.")
				return nil
			}

			if err := store.Delete(ctx, conv.ID); err != nil {
				return fmt.Errorf("deleting conversation: %w", err)
			}
			fmt.Printf("Conversation %s deleted successfully.\n", conv.ShortID())
			return nil
		})
	},
}

// conversationsClearCmd represents the conversations clear command
var conversationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete old conversations",
	Long: `Delete old conversations permanently.

By default, deletes conversations not updated in the last 30 days.
Use --before to specify a different date, or --all to delete all conversations.

Warning: This action cannot be undone.

Examples:
  kya conversations clear                      # Delete conversations older than 30 days (default)
  kya conversations clear --before 2024-01-01  # Delete conversations last updated before 2024-01-01
  kya conversations clear --before 2024-12     # Delete conversations last updated before 2024-12-01
  kya conversations clear --all                # Delete all conversations`,
	RunE: func(cmd *cobra.Command, args []string) error {
		beforeDateStr, _ := cmd.Flags().GetString("before")
		deleteAll, _ := cmd.Flags().GetBool("all")

		return withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
			convs := store.List()
			if len(convs) == 0 {
				fmt.Println("No conversations to delete.")
				return nil
			}

			if deleteAll {
				if !confirm(fmt.Sprintf("Are you sure you want to delete all %d conversations?", len(convs))) {
					fmt.Println("Deletion cancelled.")
					return nil
				}
				if err := store.Clear(ctx); err != nil {
					return fmt.Errorf("clearing conversations: %w", err)
				}
				fmt.Printf("Successfully deleted %d conversations.\n", len(convs))
				return nil
			}

			beforeDate := time.Now().AddDate(0, 0, -defaultRetentionDays)
			if beforeDateStr != "" {
				var err error
				beforeDate, err = parseDate(beforeDateStr)
				if err != nil {
					return fmt.Errorf("parsing date: %w", err)
				}
			}

			var toDelete []history.Conversation
			for _, conv := range convs {
				if conv.Updated().Before(beforeDate) {
					toDelete = append(toDelete, conv)
				}
			}
			if len(toDelete) == 0 {
				fmt.Printf("No conversations found last updated before %s.\n", beforeDate.Format("2006-01-02"))
				return nil
			}

			if !confirm(fmt.Sprintf("Are you sure you want to delete %d conversations last updated before %s?",
				len(toDelete), beforeDate.Format("2006-01-02"))) {
				fmt.Println("Deletion cancelled.")
				return nil
			}

			deleted := 0
			failed := 0
			for _, conv := range toDelete {
				if err := store.Delete(ctx, conv.ID); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to delete conversation %s: %v\n", conv.ShortID(), err)
					failed++
				} else {
					deleted++
				}
			}

			fmt.Printf("Successfully deleted %d conversations", deleted)
			if failed > 0 {
				fmt.Printf(" (%d failed)", failed)
			}
			fmt.Println(".")
			return nil
		})
	},
}

// parseDate parses a date string in various formats and returns a time.Time
// Supported formats: YYYY-MM-DD, YYYY-MM, YYYY
func parseDate(dateStr string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.ParseInLocation(layout, dateStr, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD, YYYY-MM, or YYYY)", dateStr)
}

// conversationsStartCmd represents the conversations start command
var conversationsStartCmd = &cobra.Command{
	Use:   "start [id]",
	Short: "Start an interactive conversation",
	Long: `Start an interactive chat with continuous conversation.

You can either start a new conversation or continue an existing one by providing its ID.
The ID can be a short ID (minimum 4 characters), full ID, or "latest" for the most recent conversation.

Examples:
  kya conversations start            # Start a new interactive conversation
  kya conversations start 9f3c2a1b   # Continue conversation 9f3c2a1b
  kya conversations start latest     # Continue the latest conversation`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		ctx := cmd.Context()

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

		if len(args) > 0 {
			conv, err := store.Find(args[0])
			if err != nil {
				return fmt.Errorf("finding conversation: %w", err)
			}
			ctrl.Select(conv.ID)
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

		out.prefix = "Assistant> "
		if useRender {
			out.prefix = "Assistant>\n"
		}
		repl := &chatREPL{ctrl: ctrl, store: store, out: out}
		if err := repl.run(ctx); err != nil {
			return fmt.Errorf("interactive mode: %w", err)
		}
		return nil
	},
}

// chatREPL is the interactive chat loop.
type chatREPL struct {
	ctrl  *chat.Controller
	store *history.Store
	out   *replyPrinter
}

func (r *chatREPL) run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := replHistoryFile()
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if err := os.MkdirAll(filepath.Dir(historyFile), 0o700); err != nil {
				return
			}
			if f, err := os.OpenFile(historyFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	unsubscribe := r.ctrl.OnChange(r.out.onChange)
	defer unsubscribe()

	r.printHeader()
	for {
		input, err := line.Prompt("You> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(os.Stderr, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if r.handleCommand(ctx, input) {
				continue
			}
			return nil
		}

		r.send(ctx, input)
	}
}

// send runs one turn. Ctrl+C while the reply streams cancels that reply only.
func (r *chatREPL) send(ctx context.Context, input string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Println()
	err := r.ctrl.Send(turnCtx, input)
	r.out.finish(r.ctrl.Snapshot())
	fmt.Println()

	if err != nil {
		logger.Debug("turn failed", zap.Error(err))
		if !errors.Is(err, chat.ErrReplyFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func (r *chatREPL) printHeader() {
	snap := r.ctrl.Snapshot()
	fmt.Fprintf(os.Stderr, "\n=== Know Your Animal [%s] ===\n", r.shortID(snap.ConversationID))
	fmt.Fprintf(os.Stderr, "Type '/help' for commands, '/exit' or 'Ctrl+D' to quit\n")
	fmt.Fprintf(os.Stderr, "===================================\n")
	for _, msg := range snap.Messages {
		fmt.Printf("\n%s> %s\n", roleLabel(msg.Role), msg.Content)
	}
	fmt.Println()
}

func (r *chatREPL) shortID(id string) string {
	if id == "" {
		return "new"
	}
	if conv, ok := r.store.Get(id); ok {
		return conv.ShortID()
	}
	return id
}

// handleCommand processes a slash command.
// Returns true to continue the loop, false to exit
func (r *chatREPL) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	command := strings.ToLower(fields[0])

	switch command {
	case "/help", "/h":
		fmt.Fprintln(os.Stderr, "\nAvailable commands:")
		fmt.Fprintln(os.Stderr, "  /help, /h       - Show this help message")
		fmt.Fprintln(os.Stderr, "  /info, /i       - Show conversation information")
		fmt.Fprintln(os.Stderr, "  /new, /n        - Start a new conversation")
		fmt.Fprintln(os.Stderr, "  /list, /l       - List saved conversations")
		fmt.Fprintln(os.Stderr, "  /open <id>      - Switch to a saved conversation")
		fmt.Fprintln(os.Stderr, "  /delete [id]    - Delete a conversation (default: this one)")
		fmt.Fprintln(os.Stderr, "  /clear, /c      - Clear screen (Unix/Linux only)")
		fmt.Fprintln(os.Stderr, "  /exit, /quit    - Exit interactive mode")
		fmt.Fprintln(os.Stderr, "  Ctrl+D          - Exit interactive mode")
		fmt.Fprintln(os.Stderr, "")

	case "/info", "/i":
		snap := r.ctrl.Snapshot()
		fmt.Fprintln(os.Stderr, "\nConversation Information:")
		conv, ok := r.store.Get(snap.ConversationID)
		if !ok {
			fmt.Fprintln(os.Stderr, "  New conversation (saved after the first message)")
			fmt.Fprintln(os.Stderr, "")
			break
		}
		fmt.Fprintf(os.Stderr, "  ID: %s\n", conv.ShortID())
		fmt.Fprintf(os.Stderr, "  Full ID: %s\n", conv.ID)
		fmt.Fprintf(os.Stderr, "  Title: %s\n", conv.Title)
		fmt.Fprintf(os.Stderr, "  Messages: %s\n", messageSummary(conv.Messages))
		fmt.Fprintf(os.Stderr, "  Updated: %s\n", conv.Updated().Format("2006-01-02 15:04:05"))
		fmt.Fprintln(os.Stderr, "")

	case "/new", "/n":
		r.ctrl.NewChat()
		fmt.Fprintln(os.Stderr, "Started a new conversation.")

	case "/list", "/l":
		convs := r.store.List()
		if len(convs) == 0 {
			fmt.Fprintln(os.Stderr, "No conversations found.")
			break
		}
		active := r.ctrl.Snapshot().ConversationID
		w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
		for _, conv := range convs {
			marker := " "
			if conv.ID == active {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\n", marker, conv.ShortID(), conv.Updated().Format("2006-01-02 15:04"), conv.Title)
		}
		w.Flush()

	case "/open", "/o":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: /open <id>")
			break
		}
		conv, err := r.store.Find(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		r.ctrl.Select(conv.ID)
		r.printHeader()

	case "/delete", "/d":
		id := r.ctrl.Snapshot().ConversationID
		if len(fields) > 1 {
			conv, err := r.store.Find(fields[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				break
			}
			id = conv.ID
		}
		if id == "" {
			fmt.Fprintln(os.Stderr, "Nothing to delete.")
			break
		}
		label := r.shortID(id)
		if err := r.ctrl.Delete(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(os.Stderr, "Conversation %s deleted.\n", label)

	case "/clear", "/c":
		fmt.Print("\033[H\033[2J")

	case "/exit", "/quit", "/q":
		fmt.Fprintln(os.Stderr, "Goodbye!")
		return false

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s (type '/help' for available commands)\n", command)
	}
	return true
}

func replHistoryFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}

func roleLabel(role kya.Role) string {
	if role == kya.RoleAssistant {
		return "Assistant"
	}
	return "You"
}

// confirm asks a yes/no question on stdout. --yes answers it.
func confirm(question string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", question)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "Y"
}

// withHistory loads the config, opens the history store and runs fn with it.
func withHistory(ctx context.Context, fn func(context.Context, *history.Store) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	store, closeStore, err := openHistory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer closeStore()
	return fn(ctx, store)
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsClearCmd)
	conversationsCmd.AddCommand(conversationsStartCmd)

	conversationsShowCmd.Flags().BoolVarP(&render, "render", "r", false, "Render assistant messages as markdown (default when stdout is a terminal)")
	conversationsDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	conversationsClearCmd.Flags().String("before", "", "Delete only conversations last updated before this date (format: YYYY-MM-DD, YYYY-MM, or YYYY)")
	conversationsClearCmd.Flags().Bool("all", false, "Delete all conversations")
	conversationsClearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	conversationsStartCmd.Flags().BoolVar(&direct, "direct", false, "Call the upstream model directly instead of the chat proxy")
	conversationsStartCmd.Flags().BoolVarP(&render, "render", "r", false, "Render replies as markdown (default when stdout is a terminal)")
}
