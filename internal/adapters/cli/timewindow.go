package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/retrieval"
)

func newTimeWindowCommand(deps Deps) *cobra.Command {
	var nowFlag string
	cmd := &cobra.Command{
		Use:   "timewindow [question]",
		Short: "Resolve the relative date range in a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := deps.Now()
			if nowFlag != "" {
				parsed, err := time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = parsed
			}

			out := cmd.OutOrStdout()
			window, ok := retrieval.ResolveTimeWindow(strings.Join(args, " "), now)
			if !ok {
				fmt.Fprintln(out, "no time window")
				return nil
			}
			fmt.Fprintf(out, "phrase: %s\nfrom:   %s\nto:     %s\n",
				window.Phrase, window.From.Format(time.RFC3339), window.To.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "reference time (RFC 3339), defaults to the current time")
	return cmd
}
