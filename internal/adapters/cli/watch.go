package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

func newWatchCommand(deps Deps) *cobra.Command {
	var evaluatedOnly bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print query-recorded events as JSON lines until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, closeFn, err := openBackend(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.Events == nil {
				return errors.New("event stream is not configured")
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			err = backend.Events.SubscribeQueryRecorded(cmd.Context(), func(_ context.Context, event domain.QueryRecordedEvent) error {
				if evaluatedOnly && !event.Evaluated {
					return nil
				}
				return encoder.Encode(event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&evaluatedOnly, "evaluated", false, "only print events that carry an evaluation")
	return cmd
}
