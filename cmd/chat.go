package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/cloudvoice/internal/conversation"
	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/output"
	"github.com/joescharf/cloudvoice/internal/speech"
)

const chatHelp = `Commands:
  <text>          send a typed message
  (empty line)    speak a message (same as /listen)
  /listen         capture one spoken message
  /approve [n]    approve pending action n (default: latest)
  /reject [n]     reject pending action n (default: latest)
  /pending        list actions awaiting approval
  /log [n]        show the last n event-log entries (default 10)
  /status         show session status
  /help           show this help
  /quit           leave the session`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive voice/text session with the agent",
	Long: `Start an interactive session with the agent backend.

Press Enter on an empty line to speak (requires speech.capture_cmd), or type
a message. Replies that need approval are resolved with /approve or /reject.

` + chatHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func chatRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := newChatSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			ui.Warning("Closing session: %v", err)
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            output.Cyan("cloudvoice> "),
		HistoryFile:       filepath.Join(viper.GetString("state_dir"), "chat_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	repl := newChatREPL(sess.orch, rl.Stdout())
	ui.Info("Connected to %s", viper.GetString("agent.endpoint"))
	if id := sess.SessionID(); id != "" {
		ui.VerboseLog("Session %s", id)
	}
	if err := sess.capture.Err(); err != nil {
		ui.Warning("Speech capture unavailable; type your messages (%v)", err)
	}
	fmt.Fprintln(rl.Stdout(), "Type /help for commands.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		// Ctrl+C while a capture or exchange runs cancels it, not the session.
		opCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		quit, err := repl.handle(opCtx, line)
		stop()
		if err != nil {
			ui.Error("%v", err)
		}
		if quit {
			return nil
		}
	}
}

// chatREPL interprets one input line at a time against an orchestrator and
// prints the messages each line produced.
type chatREPL struct {
	orch  *conversation.Orchestrator
	out   io.Writer
	shown int
}

func newChatREPL(orch *conversation.Orchestrator, out io.Writer) *chatREPL {
	r := &chatREPL{orch: orch, out: out}
	r.flush()
	return r
}

// handle runs one line and reports whether the session should end.
func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	defer r.flush()

	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return false, r.listen(ctx)
		}
		return false, r.orch.Submit(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/listen":
		return false, r.listen(ctx)
	case "/approve":
		msg, err := r.pendingAt(arg)
		if err != nil {
			return false, err
		}
		return false, r.orch.Approve(ctx, msg.ID)
	case "/reject":
		msg, err := r.pendingAt(arg)
		if err != nil {
			return false, err
		}
		return false, r.orch.Reject(msg.ID)
	case "/pending":
		r.printPending()
	case "/log":
		n := 10
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				return false, fmt.Errorf("invalid count: %s", arg)
			}
			n = v
		}
		r.printLog(n)
	case "/status":
		r.printStatus()
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/quit", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *chatREPL) listen(ctx context.Context) error {
	fmt.Fprintf(r.out, "%s\n", output.Yellow(string(conversation.StatusListening)))
	err := r.orch.Listen(ctx)
	if errors.Is(err, speech.ErrCaptureUnsupported) {
		return fmt.Errorf("speech capture is not configured (set speech.capture_cmd) - type your message instead")
	}
	return err
}

// pendingAt resolves a 1-based index into the open approvals; empty means latest.
func (r *chatREPL) pendingAt(arg string) (models.Message, error) {
	pending := r.orch.Pending()
	if len(pending) == 0 {
		return models.Message{}, fmt.Errorf("no actions are awaiting approval")
	}
	if arg == "" {
		return pending[len(pending)-1], nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(pending) {
		return models.Message{}, fmt.Errorf("no pending action %s (1-%d)", arg, len(pending))
	}
	return pending[n-1], nil
}

func (r *chatREPL) flush() {
	for _, m := range r.orch.MessagesSince(r.shown) {
		r.printMessage(m)
		r.shown++
	}
}

func (r *chatREPL) printMessage(m models.Message) {
	printMessage(r.out, m)
	if m.HasApprovalAffordance() {
		fmt.Fprintf(r.out, "  %s %s  (/approve or /reject)\n",
			output.Yellow("approval required:"), m.PendingAction.Describe())
	}
}

func (r *chatREPL) printPending() {
	pending := r.orch.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "No actions awaiting approval.")
		return
	}
	for i, m := range pending {
		fmt.Fprintf(r.out, "  %d. %s  (%s)\n", i+1, m.PendingAction.Describe(), m.CreatedAt.Local().Format("15:04:05"))
	}
}

func (r *chatREPL) printLog(n int) {
	state := r.orch.State()
	logs := state.Logs
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	for _, e := range logs {
		fmt.Fprintln(r.out, output.FormatLogEntry(e))
	}
}

func (r *chatREPL) printStatus() {
	state := r.orch.State()
	fmt.Fprintf(r.out, "  status:    %s\n", state.Status)
	fmt.Fprintf(r.out, "  listening: %t\n", state.Listening)
	fmt.Fprintf(r.out, "  messages:  %d\n", len(state.Messages))
	fmt.Fprintf(r.out, "  pending:   %d\n", len(r.orch.Pending()))
	fmt.Fprintf(r.out, "  log:       %d entries\n", len(state.Logs))
}

// printMessage renders one timeline message.
func printMessage(w io.Writer, m models.Message) {
	text := m.Text
	if m.Role == models.RoleSystem {
		text = output.Yellow(text)
	}
	fmt.Fprintf(w, "%s: %s\n", output.RoleColor(m.Role), text)
	if d := m.SustainabilityData; d != nil {
		fmt.Fprintf(w, "  %s %s for %gh: %s\n", output.Green("footprint"), d.Instance, d.Hours, d.Footprint)
	}
	if m.ToolUsed != "" && verbose {
		fmt.Fprintf(w, "  tool: %s\n", m.ToolUsed)
	}
}
