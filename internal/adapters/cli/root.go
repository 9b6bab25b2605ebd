// Package cli implements archivectl, the operator command line for the chat archive.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/intent"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

// RubricWriter stores a client's rubric.
type RubricWriter interface {
	UpsertRubric(ctx context.Context, clientID string, rubric domain.Rubric) error
}

// EventSubscriber delivers query-recorded events until ctx ends.
type EventSubscriber interface {
	SubscribeQueryRecorded(ctx context.Context, handler func(context.Context, domain.QueryRecordedEvent) error) error
}

// Backend is what the storage-backed commands need. Fields a command does not use may be nil.
type Backend struct {
	Asker   ports.QuestionAnswerer
	Rubrics RubricWriter
	Events  EventSubscriber
	Indexer ports.ChunkIndexer
	Close   func()
}

// Deps builds command dependencies lazily, so offline commands never touch the network.
type Deps struct {
	Classifier func(ctx context.Context) (intent.Classifier, error)
	Backend    func(ctx context.Context) (*Backend, error)
	Now        func() time.Time
}

func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	root := &cobra.Command{
		Use:   "archivectl",
		Short: "Query and operate the chat archive",
		Long: `archivectl asks questions against the chat archive and runs operator tasks.

Examples:
  archivectl ask --client acme "what did we decide about the Q3 deadline last month?"
  archivectl classify "how is Sarah doing on ownership?"
  archivectl timewindow "what happened in the last 2 weeks?"
  archivectl rubric import --client acme rubric.yaml
  archivectl index --client acme chunks.jsonl
  archivectl watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAskCommand(deps),
		newClassifyCommand(deps),
		newTimeWindowCommand(deps),
		newRubricCommand(deps),
		newWatchCommand(deps),
		newIndexCommand(deps),
	)
	return root
}

func openBackend(ctx context.Context, deps Deps) (*Backend, func(), error) {
	backend, err := deps.Backend(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if backend.Close != nil {
			backend.Close()
		}
	}
	return backend, closeFn, nil
}
