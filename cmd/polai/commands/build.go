package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/polai-go/internal/agent"
	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/logging"
	"github.com/54b3r/polai-go/internal/rag"
)

// defaultEmbedBatchSize is the number of chunks sent per embedding request
// during a build. Override with EMBEDDING_BATCH_SIZE.
const defaultEmbedBatchSize = 100

// NewBuildCmd constructs the `polai build` command, which builds the policy
// vector index and persists it to the configured backend.
func NewBuildCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the policy vector index",
		Long: `Extract the policy document, embed its chunks, and persist the vector index.

Queries build the index on first use; this command does the expensive work up
front (useful before polai serve) and is the explicit way to rebuild. A
present artifact is left untouched unless --force is given, which discards it
and re-indexes from the document — the only sanctioned way to invalidate a
stored index.

Examples:
  polai build
  polai build --force
  INDEX_BACKEND=qdrant polai build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Catch misconfiguration (dimension mismatches, missing keys)
			// before spending time on extraction.
			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("build: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("build: failed to initialise embedder: %w", err)
			}

			// The bar is created on the first report, when the chunk total
			// is finally known.
			var bar *progressbar.ProgressBar
			var embedded int
			progress := &progressEmbedder{
				inner:     emb,
				batchSize: getEnvInt("EMBEDDING_BATCH_SIZE", defaultEmbedBatchSize),
				report: func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("embedding"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWidth(40),
							progressbar.OptionOnCompletion(func() { fmt.Println() }),
						)
					}
					embedded = done
					_ = bar.Set(done)
				},
			}

			stack, err := newRetrievalStack(log, progress, nil)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer stack.close()

			exists, err := stack.store.Exists(ctx)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			if exists && !force {
				fmt.Printf("Index already present at %s. Use --force to rebuild.\n", stack.store.Location())
				return nil
			}

			fmt.Printf("Building index from %s\n", stack.docPath)
			if force {
				err = stack.service.Rebuild(ctx)
			} else {
				err = stack.service.Warm(ctx)
			}
			if err != nil {
				log.Error("index build failed", slog.Any("error", err))
				return errors.New(agent.ExplainError(err))
			}

			fmt.Printf("Indexed %d chunks into %s\n", embedded, stack.store.Location())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard the stored index artifact and rebuild from the document")

	return cmd
}

// progressEmbedder wraps an embedder to send inputs in fixed-size batches,
// reporting cumulative progress after each one. A failure in any batch fails
// the whole call, preserving the all-or-nothing build contract.
type progressEmbedder struct {
	inner     rag.Embedder
	batchSize int
	report    func(done, total int)
}

// Embed implements rag.Embedder.
func (p *progressEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	size := p.batchSize
	if size <= 0 {
		size = defaultEmbedBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
		if p.report != nil {
			p.report(end, len(texts))
		}
	}
	return out, nil
}
