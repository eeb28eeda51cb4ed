// Index statistics and memory diagnostics.
//
// Stats produces the collection-level numbers used for reporting after
// a build (document count, vocabulary size, length and frequency
// distributions); MemoryUsage walks the index structures and estimates
// their in-memory footprint. Both are diagnostics: approximate where
// exactness would be expensive, and never allowed to fail.

package goodreads

import (
	"reflect"
	"unsafe"
)

// IndexStats summarizes the state of a DocumentIndex.
type IndexStats struct {
	DocumentCount  int
	VocabularySize int

	// Document length = sum of a document's term frequencies.
	AvgDocLength float64
	MaxDocLength int
	MinDocLength int

	// Collection term frequency = a term's summed frequency across docs.
	AvgTermFreq float64
	MaxTermFreq int
	MinTermFreq int

	// Document frequency = number of documents containing a term.
	AvgDocFreq float64
	MaxDocFreq int
	MinDocFreq int

	// Approximate byte footprint per structure, from MemoryUsage.
	MemoryUsage map[string]int64
}

// Stats computes comprehensive statistics about the index.
//
// All aggregates are zero for an empty index rather than NaN or an
// error. The memory-usage breakdown is included for convenience; see
// MemoryUsage for its accuracy caveats.
func (idx *DocumentIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := IndexStats{
		DocumentCount:  int(idx.nextID),
		VocabularySize: len(idx.inverted),
	}

	lengths, avg := idx.docLengths()
	stats.AvgDocLength = avg
	firstDoc := true
	for _, length := range lengths {
		if firstDoc {
			stats.MinDocLength = length
			firstDoc = false
		}
		if length > stats.MaxDocLength {
			stats.MaxDocLength = length
		}
		if length < stats.MinDocLength {
			stats.MinDocLength = length
		}
	}

	totalTermFreq := 0
	totalDocFreq := 0
	first := true
	for _, docs := range idx.inverted {
		termTotal := 0
		for _, freq := range docs {
			termTotal += freq
		}
		docFreq := len(docs)
		totalTermFreq += termTotal
		totalDocFreq += docFreq
		if first {
			stats.MinTermFreq = termTotal
			stats.MinDocFreq = docFreq
			first = false
		}
		if termTotal > stats.MaxTermFreq {
			stats.MaxTermFreq = termTotal
		}
		if termTotal < stats.MinTermFreq {
			stats.MinTermFreq = termTotal
		}
		if docFreq > stats.MaxDocFreq {
			stats.MaxDocFreq = docFreq
		}
		if docFreq < stats.MinDocFreq {
			stats.MinDocFreq = docFreq
		}
	}
	if len(idx.inverted) > 0 {
		stats.AvgTermFreq = float64(totalTermFreq) / float64(len(idx.inverted))
		stats.AvgDocFreq = float64(totalDocFreq) / float64(len(idx.inverted))
	}

	stats.MemoryUsage = idx.memoryUsage()
	return stats
}

// Per-entry overheads for the footprint estimate. These mirror the Go
// runtime's map bucket and string header costs closely enough for
// relative comparisons between structures, which is all the diagnostic
// needs.
const (
	mapEntryOverhead  = 48
	stringHeaderSize  = int64(unsafe.Sizeof("")) // 16 on 64-bit
	intSize           = int64(unsafe.Sizeof(int(0)))
	docIDSize         = 4
	mapHeaderOverhead = 48
)

// MemoryUsage estimates the byte footprint of each major index
// structure.
//
// The estimate walks the nested maps without double-counting shared
// rows: inner maps already visited (aliasing is possible if a caller
// ever hands the same row to two documents) are skipped via a visited
// set keyed on the map's backing pointer, so the walk terminates even
// over aliased or pathological structures. Posting bitmaps report their
// exact serialized size from roaring.
//
// Returns:
//   - map[string]int64: Bytes per structure plus a "total" entry
func (idx *DocumentIndex) MemoryUsage() map[string]int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.memoryUsage()
}

// memoryUsage is MemoryUsage without the lock. Must be called with
// idx.mu held.
func (idx *DocumentIndex) memoryUsage() map[string]int64 {
	visited := make(map[uintptr]struct{})

	var forwardSize int64 = mapHeaderOverhead
	for _, row := range idx.forward {
		forwardSize += docIDSize + mapEntryOverhead
		forwardSize += termFreqRowSize(reflect.ValueOf(row), visited)
	}

	var invertedSize int64 = mapHeaderOverhead
	for term, docs := range idx.inverted {
		invertedSize += stringHeaderSize + int64(len(term)) + mapEntryOverhead
		invertedSize += postingRowSize(reflect.ValueOf(docs), visited)
	}

	var bitmapSize int64 = mapHeaderOverhead
	for term, bitmap := range idx.postings {
		bitmapSize += stringHeaderSize + int64(len(term)) + mapEntryOverhead
		bitmapSize += int64(bitmap.GetSizeInBytes())
	}

	var filenameSize int64 = mapHeaderOverhead
	for _, name := range idx.filenames {
		filenameSize += docIDSize + mapEntryOverhead
		filenameSize += stringHeaderSize + int64(len(name))
	}

	return map[string]int64{
		"forward_index":   forwardSize,
		"inverted_index":  invertedSize,
		"posting_bitmaps": bitmapSize,
		"filenames":       filenameSize,
		"total":           forwardSize + invertedSize + bitmapSize + filenameSize,
	}
}

// termFreqRowSize estimates a term->freq map's footprint, skipping maps
// already counted through the visited set.
func termFreqRowSize(row reflect.Value, visited map[uintptr]struct{}) int64 {
	if _, seen := visited[row.Pointer()]; seen {
		return 0
	}
	visited[row.Pointer()] = struct{}{}

	size := int64(mapHeaderOverhead)
	iter := row.MapRange()
	for iter.Next() {
		size += stringHeaderSize + int64(len(iter.Key().String())) + intSize + mapEntryOverhead
	}
	return size
}

// postingRowSize estimates a docID->freq map's footprint, skipping maps
// already counted through the visited set.
func postingRowSize(row reflect.Value, visited map[uintptr]struct{}) int64 {
	if _, seen := visited[row.Pointer()]; seen {
		return 0
	}
	visited[row.Pointer()] = struct{}{}
	return mapHeaderOverhead + int64(row.Len())*(docIDSize+intSize+mapEntryOverhead)
}
