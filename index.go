// Document index: the bidirectional term/document frequency store.
//
// WHAT IS A DOCUMENT INDEX?
// The index maintains two views of the same underlying facts:
//
//   - Forward index:  docID -> term -> frequency
//   - Inverted index: term -> docID -> frequency
//
// Every (doc, term, freq) triple recorded in one view is mirrored in the
// other; the two structures are updated atomically together and must
// never disagree. Alongside the frequency maps, each term carries a
// roaring bitmap of the documents containing it, which makes candidate
// selection at search time a cheap bitmap union instead of a map walk.
//
// DOCUMENT IDS:
// IDs are dense, zero-based, and assigned in insertion order. They are
// never reused or renumbered, and act as the join key between the
// forward index, the filename map, and any external metadata.
//
// MUTATION MODEL:
// The index is insert-only. AddDocument is the concurrent-safe mutation
// entrypoint (a single critical section covers ID assignment and both
// index updates); addDocument is the lock-free variant reserved for
// structurally single-writer merge loops. There are no update or delete
// operations.

package goodreads

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"
)

// DocumentIndex is a bidirectional term/document frequency index.
//
// All read accessors and AddDocument are safe for concurrent use by
// multiple goroutines. The index is built once per run and then consumed
// read-only by the retrieval model.
type DocumentIndex struct {
	mu sync.RWMutex

	// forward index: docID -> term -> frequency
	forward map[uint32]map[string]int
	// inverted index: term -> docID -> frequency
	inverted map[string]map[uint32]int
	// per-term posting bitmaps, kept in lockstep with the inverted index
	postings map[string]*roaring.Bitmap
	// docID -> source identifier (archive entry name)
	filenames map[uint32]string
	// next document ID; also the document count since IDs are dense
	nextID uint32

	logger *slog.Logger
}

// TermCount pairs a term with its summed frequency across all documents.
type TermCount struct {
	Term  string
	Count int
}

// NewDocumentIndex creates an empty document index.
//
// The logger may be nil, in which case slog.Default() is used for the
// per-document skip diagnostics emitted by the build paths.
func NewDocumentIndex(logger *slog.Logger) *DocumentIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIndex{
		forward:   make(map[uint32]map[string]int),
		inverted:  make(map[string]map[uint32]int),
		postings:  make(map[string]*roaring.Bitmap),
		filenames: make(map[uint32]string),
		logger:    logger.With("component", "index"),
	}
}

// AddDocument adds a document's term frequencies to the index and
// returns its assigned document ID.
//
// IDs are assigned strictly monotonically per call within a single
// index instance. The supplied term-frequency map is copied, so the
// caller may reuse or mutate it afterwards. A non-empty source records
// the document's origin in the filename map.
//
// This is the concurrent-safe mutation entrypoint: the entire update
// (ID assignment, forward row, inverted rows, posting bitmaps, filename
// map) happens inside a single critical section.
//
// Parameters:
//   - termFreqs: Term -> frequency counts for the document
//   - source: Source identifier (e.g. archive entry name); "" to omit
//
// Returns:
//   - uint32: The document ID assigned to this document
func (idx *DocumentIndex) AddDocument(termFreqs map[string]int, source string) uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.addDocument(termFreqs, source)
}

// addDocument is the single-writer variant of AddDocument. It performs
// the identical update without acquiring the lock and exists for merge
// loops where exclusivity is structurally guaranteed (a single goroutine
// draining worker results). Must not be called concurrently with any
// other index mutation.
func (idx *DocumentIndex) addDocument(termFreqs map[string]int, source string) uint32 {
	docID := idx.nextID
	idx.nextID++

	row := make(map[string]int, len(termFreqs))
	for term, freq := range termFreqs {
		row[term] = freq

		docs := idx.inverted[term]
		if docs == nil {
			docs = make(map[uint32]int)
			idx.inverted[term] = docs
		}
		docs[docID] = freq

		bitmap := idx.postings[term]
		if bitmap == nil {
			bitmap = roaring.New()
			idx.postings[term] = bitmap
		}
		bitmap.Add(docID)
	}
	idx.forward[docID] = row

	if source != "" {
		idx.filenames[docID] = source
	}
	return docID
}

// BuildFromDirectory indexes every .txt file in a directory.
//
// This is the small-corpus ingestion path: files are normalized
// concurrently and inserted through the concurrent-safe AddDocument.
// For archive-backed corpora, use ArchiveIndexer instead, which assigns
// IDs in a reproducible merge order.
//
// Unreadable or empty files are skipped and logged individually; a
// single bad document never aborts the build. Document IDs reflect
// insertion order, which for this path depends on goroutine scheduling.
//
// Parameters:
//   - ctx: Cancels the build between files
//   - dir: Directory containing .txt documents
//   - normalizer: The same normalizer that will be used for queries
//
// Returns:
//   - error: Non-nil only for directory-level failures or cancellation
func (idx *DocumentIndex) BuildFromDirectory(ctx context.Context, dir string, normalizer Normalizer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to scan document directory %s: %w", dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var (
		mu      sync.Mutex
		indexed int
	)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		name := entry.Name()
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				idx.logger.Warn("skipping unreadable document", "file", name, "error", err)
				return nil
			}
			text := strings.TrimSpace(strings.ToValidUTF8(string(data), "�"))
			if text == "" {
				idx.logger.Warn("skipping empty document", "file", name)
				return nil
			}
			freqs := normalizer.TermFrequencies(text)
			if len(freqs) == 0 {
				idx.logger.Warn("skipping document with no indexable terms", "file", name)
				return nil
			}
			idx.AddDocument(freqs, name)

			mu.Lock()
			indexed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	idx.logger.Info("directory build complete", "dir", dir, "documents", indexed)
	return nil
}

// DocCount returns the number of documents in the index.
func (idx *DocumentIndex) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int(idx.nextID)
}

// VocabSize returns the number of distinct terms in the index.
func (idx *DocumentIndex) VocabSize() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted)
}

// TermFreq returns the frequency of term in the given document, or 0
// when either the document or the term is absent.
//
// Time Complexity: O(1)
func (idx *DocumentIndex) TermFreq(term string, docID uint32) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.forward[docID][term]
}

// DocFreq returns the number of documents containing term, or 0 when
// the term is absent from the index.
//
// Time Complexity: O(1)
func (idx *DocumentIndex) DocFreq(term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted[term])
}

// Source returns the source identifier recorded for docID, or "" when
// the document carries no filename mapping.
func (idx *DocumentIndex) Source(docID uint32) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.filenames[docID]
}

// MostFrequentTerms returns the n terms with the highest summed
// frequency across all documents, in descending order of frequency.
//
// Selection uses a bounded min-heap rather than a full vocabulary sort,
// so the cost is O(V log n) for a vocabulary of size V. Ties are broken
// deterministically: among equal counts the lexicographically smaller
// term wins, independent of map iteration order.
//
// Parameters:
//   - n: Number of terms to return; n <= 0 yields an empty slice
//
// Returns:
//   - []TermCount: Up to n (term, total frequency) pairs
func (idx *DocumentIndex) MostFrequentTerms(n int) []TermCount {
	if n <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := &termCountHeap{}
	heap.Init(h)
	for term, docs := range idx.inverted {
		total := 0
		for _, freq := range docs {
			total += freq
		}
		tc := TermCount{Term: term, Count: total}
		if h.Len() < n {
			heap.Push(h, tc)
		} else if termCountGreater(tc, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, tc)
		}
	}

	results := make([]TermCount, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(TermCount)
	}
	return results
}

// DocLengths returns the length of every document (sum of its term
// frequencies) together with the average length across the collection.
func (idx *DocumentIndex) DocLengths() (map[uint32]int, float64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docLengths()
}

// docLengths is DocLengths without the lock. Must be called with
// idx.mu held.
func (idx *DocumentIndex) docLengths() (map[uint32]int, float64) {
	lengths := make(map[uint32]int, len(idx.forward))
	total := 0
	for docID, row := range idx.forward {
		length := 0
		for _, freq := range row {
			length += freq
		}
		lengths[docID] = length
		total += length
	}
	if len(lengths) == 0 {
		return lengths, 0
	}
	return lengths, float64(total) / float64(len(lengths))
}

// validate checks the index duality invariant: every forward entry is
// mirrored in the inverted index and its posting bitmap, and vice versa.
// Snapshot loading uses this to reject logically corrupt payloads.
func (idx *DocumentIndex) validate() error {
	forwardEntries := 0
	for docID, row := range idx.forward {
		for term, freq := range row {
			if idx.inverted[term][docID] != freq {
				return fmt.Errorf("index duality violation: forward[%d][%q]=%d not mirrored", docID, term, freq)
			}
			forwardEntries++
		}
	}
	invertedEntries := 0
	for term, docs := range idx.inverted {
		bitmap := idx.postings[term]
		for docID := range docs {
			if bitmap == nil || !bitmap.Contains(docID) {
				return fmt.Errorf("index duality violation: term %q missing doc %d in postings", term, docID)
			}
			invertedEntries++
		}
	}
	if forwardEntries != invertedEntries {
		return fmt.Errorf("index duality violation: %d forward entries vs %d inverted entries", forwardEntries, invertedEntries)
	}
	return nil
}

// triples returns every (term, docID, freq) entry sorted by (term, doc).
// Used to compare index contents independent of document ID assignment
// noise in map iteration.
func (idx *DocumentIndex) triples() []indexTriple {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []indexTriple
	for term, docs := range idx.inverted {
		for docID, freq := range docs {
			out = append(out, indexTriple{Term: term, DocID: docID, Freq: freq})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Term != out[j].Term {
			return out[i].Term < out[j].Term
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

type indexTriple struct {
	Term  string
	DocID uint32
	Freq  int
}

// termCountGreater reports whether a outranks b for top-term selection:
// higher count first, lexicographically smaller term on ties.
func termCountGreater(a, b TermCount) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Term < b.Term
}

// termCountHeap is a min-heap under termCountGreater's inverse, so the
// weakest retained term sits at the root and is evicted first.
type termCountHeap []TermCount

func (h termCountHeap) Len() int           { return len(h) }
func (h termCountHeap) Less(i, j int) bool { return termCountGreater(h[j], h[i]) }
func (h termCountHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *termCountHeap) Push(x interface{}) {
	*h = append(*h, x.(TermCount))
}

func (h *termCountHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
