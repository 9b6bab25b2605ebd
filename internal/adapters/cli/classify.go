package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newClassifyCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [question]",
		Short: "Show how a question would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := deps.Classifier(cmd.Context())
			if err != nil {
				return err
			}
			result, err := classifier.Classify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent:  %s\n", result.Intent)
			if result.Subject != "" {
				fmt.Fprintf(out, "subject: %s\n", result.Subject)
			}
			fmt.Fprintf(out, "source:  %s\n", result.Source)
			if result.Downgraded {
				fmt.Fprintln(out, "note:    evaluation downgraded to rag, no subject found")
			}
			return nil
		},
	}
}
