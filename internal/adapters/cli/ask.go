package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/stream"
)

type askFlags struct {
	clientID     string
	roomIDs      []string
	roomTypes    []string
	participants []string
	from         string
	to           string
	jsonOutput   bool
}

func newAskCommand(deps Deps) *cobra.Command {
	var flags askFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			backend, closeFn, err := openBackend(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.Asker == nil {
				return errors.New("ask is not available in this build")
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), backend, req, flags.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&flags.clientID, "client", "", "client id (required)")
	cmd.Flags().StringSliceVar(&flags.roomIDs, "room", nil, "restrict to room ids")
	cmd.Flags().StringSliceVar(&flags.roomTypes, "room-type", nil, "restrict to room types")
	cmd.Flags().StringSliceVar(&flags.participants, "participant", nil, "restrict to participants")
	cmd.Flags().StringVar(&flags.from, "from", "", "start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&flags.to, "to", "", "end date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print every event as a JSON line")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func (f askFlags) request(question string) (domain.AskRequest, error) {
	from, err := domain.ParseFilterDate(f.from, false)
	if err != nil {
		return domain.AskRequest{}, fmt.Errorf("--from: %w", err)
	}
	to, err := domain.ParseFilterDate(f.to, true)
	if err != nil {
		return domain.AskRequest{}, fmt.Errorf("--to: %w", err)
	}
	return domain.AskRequest{
		ClientID: f.clientID,
		Question: question,
		Filter: domain.Filter{
			RoomIDs:      f.roomIDs,
			RoomTypes:    f.roomTypes,
			Participants: f.participants,
			DateFrom:     from,
			DateTo:       to,
		},
	}, nil
}

func runAsk(ctx context.Context, out io.Writer, backend *Backend, req domain.AskRequest, jsonOutput bool) error {
	var (
		citations []domain.Citation
		failure   *domain.ErrorPayload
		done      *domain.DonePayload
	)
	encoder := json.NewEncoder(out)

	sink := stream.SinkFunc(func(_ context.Context, event domain.StreamEvent) error {
		if jsonOutput {
			return encoder.Encode(event)
		}
		switch p := event.Payload.(type) {
		case domain.TokenPayload:
			_, err := io.WriteString(out, p.Text)
			return err
		case domain.CitationsPayload:
			citations = p.Citations
		case domain.EvaluationResult:
			return printEvaluation(out, p)
		case domain.DonePayload:
			done = &p
		case domain.ErrorPayload:
			failure = &p
		}
		return nil
	})

	err := backend.Asker.Ask(ctx, req, sink)
	if jsonOutput {
		return err
	}
	if failure != nil {
		_, _ = fmt.Fprintf(out, "\nerror [%s]: %s\n", failure.Kind, failure.Message)
		return fmt.Errorf("ask failed: %s", failure.Kind)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out)
	if len(citations) > 0 {
		_, _ = fmt.Fprintln(out, "\nSources:")
		for i, c := range citations {
			_, _ = fmt.Fprintf(out, "  [%d] %s (%s) %s\n", i+1, c.RoomName, c.TimeSpan, c.ID)
		}
	}
	if done != nil && done.Notice != "" {
		_, _ = fmt.Fprintf(out, "\nnote: %s\n", done.Notice)
	}
	return nil
}

func printEvaluation(out io.Writer, result domain.EvaluationResult) error {
	_, err := fmt.Fprintf(out, "\n\nScores (%s):\n", result.RubricName)
	if err != nil {
		return err
	}
	for _, s := range result.Scores {
		_, _ = fmt.Fprintf(out, "  %-16s %.1f  weight %.2f  %s\n", s.DriverKey, s.Score, s.Weight, s.EvidenceStrength)
	}
	_, err = fmt.Fprintf(out, "  weighted total: %.2f\n", result.WeightedTotal)
	return err
}
