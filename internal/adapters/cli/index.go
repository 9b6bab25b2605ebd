package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

const maxIndexLine = 4 << 20

// indexRecord is one line of an index file: a pre-built chunk and its embedding.
type indexRecord struct {
	Chunk     domain.Chunk `json:"chunk"`
	Embedding []float32    `json:"embedding"`
}

func newIndexCommand(deps Deps) *cobra.Command {
	var (
		clientID  string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "index [file.jsonl]",
		Short: "Load pre-built chunks and embeddings into the chunk store",
		Long: `Reads JSON lines of the form {"chunk": {...}, "embedding": [...]} and upserts them.
Use "-" to read from stdin. Only stores that keep their own index (CHUNK_STORE=qdrant) accept writes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			backend, closeFn, err := openBackend(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.Indexer == nil {
				return errors.New("the configured chunk store does not accept indexing")
			}

			total, err := indexChunks(cmd, backend.Indexer, in, clientID, batchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks for client %s\n", total, clientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id the chunks belong to (required)")
	cmd.Flags().IntVar(&batchSize, "batch", 64, "chunks per upsert")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func indexChunks(cmd *cobra.Command, indexer ports.ChunkIndexer, in io.Reader, clientID string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxIndexLine)

	var (
		chunks  []domain.Chunk
		vectors [][]float32
		total   int
		line    int
	)
	flush := func() error {
		if len(chunks) == 0 {
			return nil
		}
		if err := indexer.IndexChunks(cmd.Context(), chunks, vectors); err != nil {
			return fmt.Errorf("index batch ending at line %d: %w", line, err)
		}
		total += len(chunks)
		chunks, vectors = nil, nil
		return nil
	}

	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec indexRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Chunk.ID == "" || len(rec.Embedding) == 0 {
			return total, fmt.Errorf("line %d: chunk id and embedding are required", line)
		}
		if rec.Chunk.ClientID != "" && rec.Chunk.ClientID != clientID {
			return total, fmt.Errorf("line %d: chunk belongs to client %q", line, rec.Chunk.ClientID)
		}
		rec.Chunk.ClientID = clientID
		chunks = append(chunks, rec.Chunk)
		vectors = append(vectors, rec.Embedding)
		if len(chunks) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read index file: %w", err)
	}
	return total, flush()
}
