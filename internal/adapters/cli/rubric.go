package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/rubric"
)

func newRubricCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Validate and store evaluation rubrics",
	}

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Parse a rubric file and print its drivers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rubric.LoadFile(args[0])
			if err != nil {
				return err
			}
			printRubric(cmd, r)
			return nil
		},
	}

	var clientID string
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Store a rubric for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rubric.LoadFile(args[0])
			if err != nil {
				return err
			}
			backend, closeFn, err := openBackend(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.Rubrics == nil {
				return errors.New("rubric storage is not available")
			}
			if err := backend.Rubrics.UpsertRubric(cmd.Context(), clientID, r); err != nil {
				return fmt.Errorf("store rubric: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored rubric %q for client %s\n", r.Name, clientID)
			return nil
		},
	}
	importCmd.Flags().StringVar(&clientID, "client", "", "client id (required)")
	_ = importCmd.MarkFlagRequired("client")

	cmd.AddCommand(validate, importCmd)
	return cmd
}

func printRubric(cmd *cobra.Command, r domain.Rubric) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rubric: %s\nscale:  %g to %g\n", r.Name, r.Policy.ScaleMin, r.Policy.ScaleMax)
	for _, d := range r.Drivers {
		fmt.Fprintf(out, "  %-16s weight %.2f\n", d.Key, d.Weight)
	}
}
