package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/cloudvoice/internal/conversation"
	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/output"
)

// maxApprovalRounds caps chained approvals in one ask.
const maxApprovalRounds = 5

var (
	askYes bool
	askNo  bool

	// askIn supplies approval answers, replaceable in tests.
	askIn io.Reader = os.Stdin
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt...>",
	Short: "Send one prompt to the agent and print the reply",
	Long: `Send one typed prompt to the agent backend.

If the reply needs approval you are asked to confirm, unless --yes or --no
decides for you.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return askRun(cmd.Context(), strings.Join(args, " "), nil)
	},
}

func init() {
	askCmd.Flags().BoolVarP(&askYes, "yes", "y", false, "Approve any requested action")
	askCmd.Flags().BoolVar(&askNo, "no", false, "Reject any requested action")
	askCmd.MarkFlagsMutuallyExclusive("yes", "no")
	rootCmd.AddCommand(askCmd)
}

// askRun performs one exchange. client may be nil to use the configured endpoint.
func askRun(ctx context.Context, prompt string, client conversation.Exchanger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := newChatSession(ctx, client)
	if err != nil {
		return err
	}

	shown := 0
	flush := func() bool {
		unreachable := false
		for _, m := range sess.orch.MessagesSince(shown) {
			printMessage(ui.Out, m)
			if m.Role == models.RoleSystem && m.Text == conversation.UnreachableText {
				unreachable = true
			}
			shown++
		}
		return unreachable
	}

	if err := sess.orch.Submit(ctx, prompt); err != nil {
		_ = sess.Close(context.Background())
		return err
	}
	unreachable := flush()

	// An approved action may come back asking for another approval.
	in := bufio.NewReader(askIn)
	for round := 0; ; round++ {
		pending := sess.orch.Pending()
		if len(pending) == 0 {
			break
		}
		if round == maxApprovalRounds {
			for _, m := range pending {
				ui.Warning("Left unresolved: %s", m.PendingAction.Describe())
			}
			break
		}
		for _, m := range pending {
			approve, err := decideApproval(in, m.PendingAction)
			if err != nil {
				_ = sess.Close(context.Background())
				return err
			}
			if approve {
				err = sess.orch.Approve(ctx, m.ID)
			} else {
				err = sess.orch.Reject(m.ID)
			}
			if err != nil {
				_ = sess.Close(context.Background())
				return err
			}
			if flush() {
				unreachable = true
			}
		}
	}

	if err := sess.Close(context.Background()); err != nil {
		ui.Warning("Closing session: %v", err)
	}
	if unreachable {
		return errors.New("agent backend unreachable")
	}
	return nil
}

// decideApproval applies --yes/--no or asks on the terminal.
func decideApproval(in *bufio.Reader, action *models.PendingAction) (bool, error) {
	switch {
	case askYes:
		ui.Info("Auto-approving: %s", action.Describe())
		return true, nil
	case askNo:
		ui.Info("Auto-rejecting: %s", action.Describe())
		return false, nil
	}

	for {
		fmt.Fprintf(ui.Out, "%s %s? [y/n]: ", output.Yellow("Approve"), action.Describe())
		input, err := in.ReadString('\n')
		if err != nil && input == "" {
			if err == io.EOF {
				fmt.Fprintln(ui.Out)
				return false, nil
			}
			return false, fmt.Errorf("failed to read input: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		default:
			fmt.Fprintln(ui.Out, output.Red("Please enter y or n."))
		}
	}
}
