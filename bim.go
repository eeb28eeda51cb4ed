// Binary Independence Model retrieval.
//
// WHAT IS BIM?
// The Binary Independence Model is a probabilistic ranking function. It
// assumes query terms occur independently of one another and represents
// documents as binary term vectors — a term is present or absent, its
// in-document frequency does not matter. Each document containing at
// least one query term receives a Retrieval Status Value (RSV):
//
//	RSV(d) = Σ over query terms t present in d of
//	         log10( (p_t * (1 - u_t)) / ((1 - p_t) * u_t) )
//
// where p_t is the probability of t appearing in a relevant document
// and u_t the probability of t appearing in a non-relevant one.
//
// SMOOTHING:
// With no relevance feedback available, p_t is fixed at s/S = 0.5/1.0 —
// the classic no-training-data prior. u_t is Laplace-smoothed from the
// corpus-wide document frequency, (df + 0.5) / (N + 1), and clamped
// below 1.0 to keep the weight's denominator positive. Both constants
// are deliberate: there is no feedback path that updates p_t.
//
// CANDIDATE SELECTION:
// Documents sharing zero query terms are assumed non-relevant and never
// scored. The candidate set is the union of the query terms' posting
// bitmaps, computed with a roaring multi-way OR.
//
// GUARANTEES & TRADE-OFFS:
// ✓ Pros:
//   - Principled probabilistic ranking with no training required
//   - Candidate selection touches only the query terms' postings
//   - Scores depend only on corpus-wide statistics, cheap per document
//
// ✗ Cons:
//   - Ignores within-document term frequency (binary representation)
//   - Ignores document length
//   - Fixed relevance prior without feedback judgments

package goodreads

import (
	"bufio"
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// BIM smoothing constants.
const (
	// relevancePrior (s) and relevancePriorScale (S) fix the term
	// probability in relevant documents at s/S with no feedback data.
	relevancePrior      = 0.5
	relevancePriorScale = 1.0

	// maxNonRelevantProb caps u_t strictly below 1 so the term weight's
	// denominator never reaches zero.
	maxNonRelevantProb = 0.9999
)

// SearchResult is a single ranked hit: the document's source identifier
// and its RSV score.
type SearchResult struct {
	Source string
	Score  float64
}

// rsvHeapPool reuses top-k heaps across searches to reduce allocations.
var rsvHeapPool = sync.Pool{
	New: func() interface{} {
		h := &rsvHeap{}
		heap.Init(h)
		return h
	},
}

// BIMModel ranks documents against queries using the Binary
// Independence Model.
//
// The model is a read-only view over a built DocumentIndex: the
// document count is captured at construction and later index mutation
// is not observed. Construct the model after the build completes.
type BIMModel struct {
	index      *DocumentIndex
	normalizer Normalizer
	docCount   int

	// source identifier (extension stripped) -> relevance judgment
	relevanceLabels map[string]int

	logger *slog.Logger
}

// NewBIMModel creates a retrieval model over index.
//
// The normalizer must be the same one used to build the index — query
// terms are matched literally against index terms, so a configuration
// mismatch breaks retrieval silently. The logger may be nil.
func NewBIMModel(index *DocumentIndex, normalizer Normalizer, logger *slog.Logger) *BIMModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &BIMModel{
		index:      index,
		normalizer: normalizer,
		docCount:   index.DocCount(),
		logger:     logger.With("component", "bim"),
	}
}

// Search returns the top k documents ranked by RSV for the query.
//
// The query runs through the same normalization pipeline as documents.
// A query that normalizes to nothing, or whose terms are all absent
// from the vocabulary, yields an empty result — neither is an error.
// k <= 0 yields an empty result; k larger than the candidate set
// returns every candidate.
//
// Parameters:
//   - query: Raw query text
//   - k: Maximum number of results
//
// Returns:
//   - []SearchResult: Ranked (source, score) pairs, descending by score
func (m *BIMModel) Search(query string, k int) []SearchResult {
	if k <= 0 {
		return nil
	}

	queryTerms := m.normalizer.Normalize(query)
	if len(queryTerms) == 0 {
		m.logger.Debug("query normalized to no terms", "query", query)
		return nil
	}

	m.index.mu.RLock()
	defer m.index.mu.RUnlock()

	candidates := m.candidates(queryTerms)
	if candidates.IsEmpty() {
		m.logger.Debug("no candidate documents", "query", query)
		return nil
	}

	// Per-term weights depend only on corpus statistics, so compute
	// them once per distinct occurrence list, not per candidate.
	weights := make(map[string]float64, len(queryTerms))
	for _, term := range queryTerms {
		if _, done := weights[term]; !done {
			weights[term] = m.termWeight(term)
		}
	}

	h := rsvHeapPool.Get().(*rsvHeap)
	*h = (*h)[:0]
	defer func() {
		*h = (*h)[:0]
		rsvHeapPool.Put(h)
	}()

	for iter := candidates.Iterator(); iter.HasNext(); {
		docID := iter.Next()
		row := m.index.forward[docID]

		// Duplicate query terms contribute their weight once per
		// occurrence in the query.
		rsv := 0.0
		for _, term := range queryTerms {
			if _, present := row[term]; present {
				rsv += weights[term]
			}
		}

		result := scoredDoc{docID: docID, score: rsv}
		if h.Len() < k {
			heap.Push(h, result)
		} else if rsv > (*h)[0].score {
			heap.Pop(h)
			heap.Push(h, result)
		}
	}

	results := make([]SearchResult, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		doc := heap.Pop(h).(scoredDoc)
		results[i] = SearchResult{
			Source: m.index.filenames[doc.docID],
			Score:  doc.score,
		}
	}
	return results
}

// candidates returns the union of the query terms' posting bitmaps.
// Must be called with the index read lock held.
func (m *BIMModel) candidates(queryTerms []string) *roaring.Bitmap {
	bitmaps := make([]*roaring.Bitmap, 0, len(queryTerms))
	for _, term := range queryTerms {
		if bitmap := m.index.postings[term]; bitmap != nil {
			bitmaps = append(bitmaps, bitmap)
		}
	}
	if len(bitmaps) == 0 {
		return roaring.New()
	}
	return roaring.FastOr(bitmaps...)
}

// termWeight computes a term's contribution to the RSV score.
// Must be called with the index read lock held.
func (m *BIMModel) termWeight(term string) float64 {
	df := float64(len(m.index.inverted[term]))
	n := float64(m.docCount)

	p := relevancePrior / relevancePriorScale
	u := (df + 0.5) / (n + 1)
	if u >= 1.0 {
		u = maxNonRelevantProb
	}
	return math.Log10((p * (1 - u)) / ((1 - p) * u))
}

// LoadRelevanceLabels loads document relevance judgments from a
// two-column CSV file (document_id,label). Labels annotate search
// results for evaluation; they never influence scoring — the fixed
// relevance prior is preserved regardless.
//
// Malformed lines are skipped. A missing file is an error; an empty
// file simply clears the label set.
func (m *BIMModel) LoadRelevanceLabels(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open relevance labels %s: %w", path, err)
	}
	defer f.Close()

	labels := make(map[string]int)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		id, value, found := strings.Cut(line, ",")
		if !found {
			continue
		}
		label, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		labels[strings.TrimSpace(id)] = label
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read relevance labels %s: %w", path, err)
	}

	m.relevanceLabels = labels
	m.logger.Info("relevance labels loaded", "path", path, "labels", len(labels))
	return nil
}

// RelevanceLabel returns the known relevance judgment for a source
// identifier, matching on the identifier with its file extension
// stripped. The second return is false when no judgment is known.
func (m *BIMModel) RelevanceLabel(source string) (int, bool) {
	base := source
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	label, ok := m.relevanceLabels[base]
	return label, ok
}

// scoredDoc pairs a document with its RSV for top-k selection.
type scoredDoc struct {
	docID uint32
	score float64
}

// rsvHeap is a min-heap of scoredDocs: the lowest retained score sits
// at the root and is evicted first, keeping the k highest overall.
type rsvHeap []scoredDoc

func (h rsvHeap) Len() int           { return len(h) }
func (h rsvHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h rsvHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *rsvHeap) Push(x interface{}) {
	*h = append(*h, x.(scoredDoc))
}

func (h *rsvHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
