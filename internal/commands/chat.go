// internal/commands/chat.go
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwiater/relay/internal/relay"
	"github.com/mwiater/relay/internal/transport/console"
)

var (
	chatUser  string
	chatPlain bool
)

var promptLabel = color.New(color.FgGreen, color.Bold).SprintFunc()

// chatCmd represents the 'chat' command, which starts an interactive chat session.
var chatCmd = &cobra.Command{
	Use:         "chat",
	Short:       "Start a chat session",
	Long:        "The 'chat' command reads messages from the terminal and prints each reply as the fragments it would be delivered in. Type /reset to forget the conversation and /exit to quit.",
	Annotations: map[string]string{annotationQuietLog: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer rt.Close()
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), rt.responder, console.New(cmd.OutOrStdout(), chatPlain), chatUser)
	},
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, responder *relay.Responder, sender relay.Sender, user string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, promptLabel("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := responder.Reset(ctx, user); err != nil {
				return err
			}
			fmt.Fprintln(out, color.YellowString("conversation cleared"))
			continue
		}

		res, err := responder.Handle(ctx, relay.Inbound{UserID: user, Channel: "console", Content: line}, sender)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, color.RedString("error: %v", err))
			continue
		}
		if res.Fallback {
			fmt.Fprintln(out, color.YellowString("(the model did not answer; see the log file for details)"))
		}
	}
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "conversation key used for history")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "print fragments without borders")
	rootCmd.AddCommand(chatCmd)
}
