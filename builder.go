// Parallel archive indexer.
//
// BUILD PIPELINE:
// Normalizing and counting a document is CPU-bound and independent per
// document; assigning document IDs is not. The builder therefore fans
// out the expensive phase and confines the cheap phase to one writer:
//
//	archive entries ──batches──▶ worker pool ──results──▶ merge (single writer)
//
//  1. List all document names in the archive (single pass).
//  2. Partition the list into contiguous batches of chunkSize, default
//     max(1000, total / (workers * 4)).
//  3. Each worker opens its own archive handle and, per document in a
//     batch, reads → normalizes → counts term frequencies. Failed
//     documents are skipped; a panicking batch is dropped and logged.
//  4. Batch results are consumed in completion order (not input order)
//     and accumulated; cumulative progress is reported per batch.
//  5. A single goroutine merges every accumulated (name, frequencies)
//     pair into the index through the single-writer entrypoint.
//
// Because merge order follows batch completion order, document IDs are
// not a function of archive order across parallel runs. The index is
// content-addressed by term and document, so this costs nothing; it is
// documented here as a property, not hidden.

package goodreads

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives cumulative build progress after each completed
// batch: documents dispatched so far out of the total.
type ProgressFunc func(processed, total int)

// BuildOptions configures an ArchiveIndexer.
type BuildOptions struct {
	// Workers is the size of the worker pool.
	// Defaults to max(1, NumCPU/2).
	Workers int

	// ChunkSize overrides the batch size. Zero selects the default,
	// max(1000, total/(workers*4)).
	ChunkSize int

	// Progress, when non-nil, is invoked after every completed batch.
	// It is called from the fan-in goroutine only, never concurrently.
	Progress ProgressFunc

	// Logger for build diagnostics; nil means slog.Default().
	Logger *slog.Logger
}

// DefaultBuildOptions returns the default builder configuration.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Workers: max(1, runtime.NumCPU()/2),
	}
}

// ArchiveIndexer builds a DocumentIndex from a zip corpus using a
// fixed-size worker pool.
type ArchiveIndexer struct {
	archivePath string
	normalizer  Normalizer
	workers     int
	chunkSize   int
	progress    ProgressFunc
	logger      *slog.Logger

	// processDoc turns one archive entry into its term counts. Defaults
	// to readAndCount; tests swap it to inject per-document failures.
	processDoc func(corpus *ZipCorpus, name string) (map[string]int, error)
}

// docTerms is one processed document: its archive entry name and its
// term-frequency counts.
type docTerms struct {
	name  string
	freqs map[string]int
}

// batchResult carries a completed batch back to the fan-in loop.
// dispatched counts every document in the batch, including skipped
// ones, so progress reporting tracks coverage rather than yield.
type batchResult struct {
	docs       []docTerms
	dispatched int
}

// NewArchiveIndexer creates an indexer for the archive at archivePath.
//
// The normalizer must be the same one later handed to the retrieval
// model; indexing and querying through different normalizers silently
// breaks term matching.
func NewArchiveIndexer(archivePath string, normalizer Normalizer, opts BuildOptions) *ArchiveIndexer {
	workers := opts.Workers
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()/2)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &ArchiveIndexer{
		archivePath: archivePath,
		normalizer:  normalizer,
		workers:     workers,
		chunkSize:   opts.ChunkSize,
		progress:    opts.Progress,
		logger:      logger.With("component", "builder"),
	}
	b.processDoc = b.readAndCount
	return b
}

// readAndCount reads one document and counts its normalized terms.
func (b *ArchiveIndexer) readAndCount(corpus *ZipCorpus, name string) (map[string]int, error) {
	text, err := corpus.ReadDocument(name)
	if err != nil {
		return nil, err
	}
	return b.normalizer.TermFrequencies(text), nil
}

// Build indexes every document in the archive and returns the populated
// index.
//
// Per-document and per-batch failures are recovered locally (skipped
// and logged); only configuration-level failures — an unopenable
// archive — and context cancellation abort the build.
//
// Parameters:
//   - ctx: Cancels the build between batches
//
// Returns:
//   - *DocumentIndex: The merged index
//   - error: Non-nil on archive open failure or cancellation
func (b *ArchiveIndexer) Build(ctx context.Context) (*DocumentIndex, error) {
	corpus, err := OpenZipCorpus(b.archivePath)
	if err != nil {
		return nil, err
	}
	names := corpus.List()
	corpus.Close()

	total := len(names)
	chunkSize := b.chunkSize
	if chunkSize <= 0 {
		chunkSize = max(1000, total/(b.workers*4))
	}
	numBatches := (total + chunkSize - 1) / chunkSize

	b.logger.Info("starting archive index build",
		"archive", b.archivePath,
		"documents", total,
		"workers", b.workers,
		"chunk_size", chunkSize,
		"batches", numBatches)

	// All batches are known up front, so the task channel is filled and
	// closed before the pool starts.
	batches := make(chan []string, numBatches)
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		batches <- names[start:end]
	}
	close(batches)

	results := make(chan batchResult, b.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			return b.runWorker(ctx, batches, results)
		})
	}
	go func() {
		// Wait() here only sequences the close; the error surfaces from
		// the g.Wait() below.
		_ = g.Wait()
		close(results)
	}()

	// Fan-in: consume batches in completion order, earliest finished
	// first, and report cumulative progress per batch.
	collected := make([]docTerms, 0, total)
	processed := 0
	for res := range results {
		collected = append(collected, res.docs...)
		processed += res.dispatched
		if b.progress != nil {
			b.progress(min(processed, total), total)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge phase: strictly sequential so document IDs are assigned as
	// one atomic forward+inverted update per document, in a defined
	// order (the accumulation order above).
	b.logger.Info("merging batch results into index", "documents", len(collected))
	idx := NewDocumentIndex(b.logger)
	for _, d := range collected {
		idx.addDocument(d.freqs, d.name)
	}

	b.logger.Info("archive index build complete",
		"documents", idx.DocCount(),
		"vocabulary", idx.VocabSize(),
		"skipped", total-idx.DocCount())
	return idx, nil
}

// runWorker drains the batch channel. Each worker opens its own archive
// handle; workers share no mutable state and block only on I/O, CPU
// work, and the result channel.
func (b *ArchiveIndexer) runWorker(ctx context.Context, batches <-chan []string, results chan<- batchResult) error {
	corpus, err := OpenZipCorpus(b.archivePath)
	if err != nil {
		return fmt.Errorf("worker failed to open archive: %w", err)
	}
	defer corpus.Close()

	for batch := range batches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res := batchResult{
			docs:       b.processBatch(corpus, batch),
			dispatched: len(batch),
		}
		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// processBatch reads, normalizes, and counts every document in a batch.
// Per-document failures skip that document. A panic anywhere in the
// batch drops the whole batch — its documents are simply absent from
// the final index — and the build continues.
func (b *ArchiveIndexer) processBatch(corpus *ZipCorpus, batch []string) (docs []docTerms) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("dropping failed batch",
				"batch_size", len(batch),
				"first_doc", batch[0],
				"panic", r)
			docs = nil
		}
	}()

	docs = make([]docTerms, 0, len(batch))
	for _, name := range batch {
		freqs, err := b.processDoc(corpus, name)
		if err != nil {
			b.logger.Warn("skipping unreadable document", "doc", name, "error", err)
			continue
		}
		if len(freqs) == 0 {
			continue
		}
		docs = append(docs, docTerms{name: name, freqs: freqs})
	}
	return docs
}
