// internal/commands/split.go
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwiater/relay/internal/chunker"
	"github.com/mwiater/relay/internal/relay"
	"github.com/mwiater/relay/internal/transport/console"
)

var (
	splitPolicy string
	splitJSON   bool
	splitCheck  bool
	splitPlain  bool
)

type splitReport struct {
	Fragments []string `json:"fragments"`
	Count     int      `json:"count"`
	Balanced  bool     `json:"balanced"`
	Oversize  int      `json:"oversize"`
}

// splitCmd implements the 'split' command, which splits a file (or stdin) into fragments.
var splitCmd = &cobra.Command{
	Use:         "split [file]",
	Short:       "Split text into message-sized fragments",
	Long:        `The 'split' command reads text from a file, or from stdin when no file is given, and prints the fragments a reply would be sent as.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationQuietLog: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		text, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		policyName := splitPolicy
		if policyName == "" {
			policyName = cfg.FencePolicy
		}
		policy, err := chunker.ParseFencePolicy(policyName)
		if err != nil {
			return err
		}
		c, err := chunker.New(cfg.MaxLength, chunker.WithFencePolicy(policy))
		if err != nil {
			return err
		}
		return runSplit(cmd.Context(), cmd.OutOrStdout(), c, text)
	},
}

func runSplit(ctx context.Context, out io.Writer, c *chunker.Chunker, text string) error {
	fragments := c.Chunk(text)
	report := splitReport{Fragments: fragments, Count: len(fragments), Balanced: true}
	var problems []string
	for i, f := range fragments {
		if !chunker.Balanced(f) {
			report.Balanced = false
			problems = append(problems, fmt.Sprintf("fragment %d has an unbalanced code fence", i+1))
		}
		if n := utf8.RuneCountInString(f); n > c.MaxLength() {
			report.Oversize++
			if strings.Contains(f, "\n") {
				problems = append(problems, fmt.Sprintf("fragment %d is %d characters long", i+1, n))
			}
		}
	}
	recorder.ObserveChunk(report.Count, report.Oversize)

	if splitJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		sender := console.New(out, splitPlain)
		for i, f := range fragments {
			msg := relay.Outbound{Index: i + 1, Total: len(fragments), Content: f}
			if err := sender.Send(ctx, msg); err != nil {
				return err
			}
		}
	}

	if !splitCheck {
		return nil
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(out, color.RedString("✗ %s", p))
		}
		return fmt.Errorf("%d fragment check(s) failed", len(problems))
	}
	fmt.Fprintln(out, color.GreenString("✓ %d fragment(s), all within %d characters and balanced", report.Count, c.MaxLength()))
	return nil
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func init() {
	splitCmd.Flags().StringVar(&splitPolicy, "policy", "", "fence policy: reopen or separate (default from config)")
	splitCmd.Flags().BoolVar(&splitJSON, "json", false, "print fragments as JSON")
	splitCmd.Flags().BoolVar(&splitCheck, "check", false, "verify length and fence balance of every fragment")
	splitCmd.Flags().BoolVar(&splitPlain, "plain", false, "print fragments without borders")
	rootCmd.AddCommand(splitCmd)
}
