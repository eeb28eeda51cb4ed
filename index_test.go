package goodreads

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tf(pairs ...any) map[string]int {
	m := make(map[string]int, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1].(int)
	}
	return m
}

// TestNewDocumentIndex tests creation of an empty index
func TestNewDocumentIndex(t *testing.T) {
	idx := NewDocumentIndex(nil)

	if idx == nil {
		t.Fatal("NewDocumentIndex() returned nil")
	}
	if idx.DocCount() != 0 {
		t.Errorf("DocCount() = %d, want 0", idx.DocCount())
	}
	if idx.VocabSize() != 0 {
		t.Errorf("VocabSize() = %d, want 0", idx.VocabSize())
	}
}

// TestAddDocumentIDMonotonicity verifies that document IDs are dense,
// zero-based, and strictly increasing per call
func TestAddDocumentIDMonotonicity(t *testing.T) {
	idx := NewDocumentIndex(nil)

	for i := 0; i < 100; i++ {
		id := idx.AddDocument(tf("term", 1), "")
		if id != uint32(i) {
			t.Fatalf("AddDocument() call %d assigned ID %d, want %d", i, id, i)
		}
	}
	if idx.DocCount() != 100 {
		t.Errorf("DocCount() = %d, want 100", idx.DocCount())
	}
}

// TestIndexDuality verifies that every forward entry is mirrored in the
// inverted index and its posting bitmap, and vice versa
func TestIndexDuality(t *testing.T) {
	idx := NewDocumentIndex(nil)
	idx.AddDocument(tf("book", 1, "read", 2), "a.txt")
	idx.AddDocument(tf("book", 3), "b.txt")
	idx.AddDocument(tf("magic", 5, "read", 1), "c.txt")

	if err := idx.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}

	// Spot-check both directions.
	if got := idx.TermFreq("read", 0); got != 2 {
		t.Errorf("TermFreq(read, 0) = %d, want 2", got)
	}
	if got := idx.inverted["read"][0]; got != 2 {
		t.Errorf("inverted[read][0] = %d, want 2", got)
	}
	if !idx.postings["read"].Contains(0) || !idx.postings["read"].Contains(2) {
		t.Error("postings[read] missing documents 0 or 2")
	}
	if idx.postings["read"].Contains(1) {
		t.Error("postings[read] contains document 1, which lacks the term")
	}
}

// TestTermAndDocFreq covers lookups for present and absent terms
func TestTermAndDocFreq(t *testing.T) {
	idx := NewDocumentIndex(nil)
	idx.AddDocument(tf("book", 1), "a.txt")
	docB := idx.AddDocument(tf("book", 3), "b.txt")

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"doc freq of shared term", idx.DocFreq("book"), 2},
		{"term freq in specific doc", idx.TermFreq("book", docB), 3},
		{"doc freq of absent term", idx.DocFreq("nonexistent"), 0},
		{"term freq of absent term", idx.TermFreq("nonexistent", docB), 0},
		{"term freq in absent doc", idx.TermFreq("book", 999), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

// TestAddDocumentCopiesInput verifies the index owns its rows: mutating
// the caller's map after insertion must not corrupt the index
func TestAddDocumentCopiesInput(t *testing.T) {
	idx := NewDocumentIndex(nil)
	freqs := tf("book", 1)
	id := idx.AddDocument(freqs, "a.txt")

	freqs["book"] = 99
	freqs["sneaky"] = 1

	if got := idx.TermFreq("book", id); got != 1 {
		t.Errorf("TermFreq(book) = %d after caller mutation, want 1", got)
	}
	if got := idx.DocFreq("sneaky"); got != 0 {
		t.Errorf("DocFreq(sneaky) = %d, want 0", got)
	}
}

// TestAddDocumentConcurrent verifies the concurrent-safe entrypoint:
// unique IDs and consistent structures under parallel producers
func TestAddDocumentConcurrent(t *testing.T) {
	idx := NewDocumentIndex(nil)

	const producers = 8
	const docsPerProducer = 200

	var wg sync.WaitGroup
	ids := make([][]uint32, producers)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < docsPerProducer; i++ {
				id := idx.AddDocument(tf("shared", 1, "term", i+1), "")
				ids[p] = append(ids[p], id)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, producerIDs := range ids {
		for _, id := range producerIDs {
			if seen[id] {
				t.Fatalf("document ID %d assigned twice", id)
			}
			seen[id] = true
		}
	}
	if idx.DocCount() != producers*docsPerProducer {
		t.Errorf("DocCount() = %d, want %d", idx.DocCount(), producers*docsPerProducer)
	}
	if got := idx.DocFreq("shared"); got != producers*docsPerProducer {
		t.Errorf("DocFreq(shared) = %d, want %d", got, producers*docsPerProducer)
	}
	if err := idx.validate(); err != nil {
		t.Errorf("validate() after concurrent build = %v", err)
	}
}

// TestMostFrequentTerms tests heap-based top-n term selection
func TestMostFrequentTerms(t *testing.T) {
	idx := NewDocumentIndex(nil)
	idx.AddDocument(tf("alpha", 5, "beta", 3, "gamma", 1), "")
	idx.AddDocument(tf("alpha", 5, "gamma", 1, "delta", 3), "")

	tests := []struct {
		name string
		n    int
		want []TermCount
	}{
		{
			name: "top 2 by summed frequency",
			n:    2,
			want: []TermCount{{"alpha", 10}, {"beta", 3}},
		},
		{
			name: "ties broken lexicographically",
			n:    3,
			want: []TermCount{{"alpha", 10}, {"beta", 3}, {"delta", 3}},
		},
		{
			name: "n larger than vocabulary",
			n:    10,
			want: []TermCount{{"alpha", 10}, {"beta", 3}, {"delta", 3}, {"gamma", 2}},
		},
		{
			name: "n zero",
			n:    0,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.MostFrequentTerms(tt.n)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MostFrequentTerms(%d) mismatch (-want +got):\n%s", tt.n, diff)
			}
		})
	}
}

// TestMostFrequentTermsDeterministic verifies stable output across
// repeated calls despite random map iteration order
func TestMostFrequentTermsDeterministic(t *testing.T) {
	idx := NewDocumentIndex(nil)
	// Many terms with identical counts force tie-breaking.
	idx.AddDocument(tf("a", 1, "b", 1, "c", 1, "d", 1, "e", 1, "f", 1, "g", 1), "")

	first := idx.MostFrequentTerms(3)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, idx.MostFrequentTerms(3)); diff != "" {
			t.Fatalf("MostFrequentTerms() unstable on run %d (-first +got):\n%s", i, diff)
		}
	}
	want := []TermCount{{"a", 1}, {"b", 1}, {"c", 1}}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("MostFrequentTerms(3) mismatch (-want +got):\n%s", diff)
	}
}

// TestDocLengths tests per-document length computation
func TestDocLengths(t *testing.T) {
	idx := NewDocumentIndex(nil)
	a := idx.AddDocument(tf("x", 2, "y", 3), "")
	b := idx.AddDocument(tf("x", 1), "")

	lengths, avg := idx.DocLengths()
	if lengths[a] != 5 || lengths[b] != 1 {
		t.Errorf("DocLengths() = %v, want {%d:5, %d:1}", lengths, a, b)
	}
	if avg != 3.0 {
		t.Errorf("average length = %v, want 3.0", avg)
	}
}

// TestBuildFromDirectory tests the directory-scan ingestion path
func TestBuildFromDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":     "the cats ran quickly",
		"b.txt":     "cats sleep",
		"empty.txt": "   ",
		"skip.dat":  "not a text file",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	idx := NewDocumentIndex(nil)
	n := NewNormalizer(nil, nil)
	if err := idx.BuildFromDirectory(context.Background(), dir, n); err != nil {
		t.Fatalf("BuildFromDirectory() error = %v", err)
	}

	// Two usable documents: the empty file and the .dat file are skipped.
	if idx.DocCount() != 2 {
		t.Errorf("DocCount() = %d, want 2", idx.DocCount())
	}
	if got := idx.DocFreq("cat"); got != 2 {
		t.Errorf("DocFreq(cat) = %d, want 2", got)
	}
	if err := idx.validate(); err != nil {
		t.Errorf("validate() = %v", err)
	}

	// Sources are recorded for both documents.
	sources := map[string]bool{}
	for id := uint32(0); id < 2; id++ {
		sources[idx.Source(id)] = true
	}
	if !sources["a.txt"] || !sources["b.txt"] {
		t.Errorf("sources = %v, want a.txt and b.txt", sources)
	}
}

// TestBuildFromDirectoryMissing tests the directory-level failure path
func TestBuildFromDirectoryMissing(t *testing.T) {
	idx := NewDocumentIndex(nil)
	err := idx.BuildFromDirectory(context.Background(), "/nonexistent/path", NewNormalizer(nil, nil))
	if err == nil {
		t.Fatal("BuildFromDirectory(missing) expected error, got nil")
	}
}
