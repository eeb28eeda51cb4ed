// Review metadata join.
//
// Search results identify documents by source (the archive entry name,
// e.g. "12345.txt"). The original review dataset carries per-review
// metadata — reviewer and star rating — in a CSV export, keyed by
// review ID. MetadataStore loads that CSV once and answers lookups so
// the presentation layer can decorate hits; the retrieval core itself
// never depends on it beyond handing over the source string.

package goodreads

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ReviewMetadata is the external metadata recorded for one review.
type ReviewMetadata struct {
	User   string
	Rating int
}

// MetadataStore maps review identifiers to their metadata.
type MetadataStore struct {
	records map[string]ReviewMetadata
}

// LoadMetadata reads a review-metadata CSV file. The header row must
// contain review_id, user_id, and rating columns (any order, extra
// columns ignored). Rows with malformed ratings are skipped.
func LoadMetadata(path string, logger *slog.Logger) (*MetadataStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata header: %w", err)
	}
	idCol, userCol, ratingCol := -1, -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "review_id":
			idCol = i
		case "user_id":
			userCol = i
		case "rating":
			ratingCol = i
		}
	}
	if idCol < 0 || userCol < 0 || ratingCol < 0 {
		return nil, fmt.Errorf("metadata file %s missing required columns (review_id, user_id, rating)", path)
	}

	records := make(map[string]ReviewMetadata)
	skipped := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if idCol >= len(row) || userCol >= len(row) || ratingCol >= len(row) {
			skipped++
			continue
		}
		rating, err := strconv.Atoi(strings.TrimSpace(row[ratingCol]))
		if err != nil {
			skipped++
			continue
		}
		records[strings.TrimSpace(row[idCol])] = ReviewMetadata{
			User:   strings.TrimSpace(row[userCol]),
			Rating: rating,
		}
	}

	logger.Info("review metadata loaded", "path", path, "entries", len(records), "skipped", skipped)
	return &MetadataStore{records: records}, nil
}

// Lookup returns the metadata for a search hit's source identifier.
// The identifier is matched with its file extension stripped, so
// "12345.txt" finds the review_id "12345". The second return is false
// when the review is unknown.
func (s *MetadataStore) Lookup(source string) (ReviewMetadata, bool) {
	base := source
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	md, ok := s.records[base]
	return md, ok
}

// Len returns the number of metadata entries loaded.
func (s *MetadataStore) Len() int {
	return len(s.records)
}
