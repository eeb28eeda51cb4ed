package goodreads

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeMetadataCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadMetadata tests CSV loading with header-driven column discovery
func TestLoadMetadata(t *testing.T) {
	path := writeMetadataCSV(t,
		"review_id,user_id,rating\n"+
			"12345,alice,5\n"+
			"67890,bob,2\n")

	store, err := LoadMetadata(path, nil)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}

	md, ok := store.Lookup("12345.txt")
	if !ok {
		t.Fatal("Lookup(12345.txt) not found")
	}
	if diff := cmp.Diff(ReviewMetadata{User: "alice", Rating: 5}, md); diff != "" {
		t.Errorf("Lookup(12345.txt) mismatch (-want +got):\n%s", diff)
	}
}

// TestLoadMetadataColumnOrder verifies that columns are located by
// header name, not position, and extra columns are ignored
func TestLoadMetadataColumnOrder(t *testing.T) {
	path := writeMetadataCSV(t,
		"book_id,rating,review_text,review_id,user_id\n"+
			"b1,4,loved it,12345,alice\n")

	store, err := LoadMetadata(path, nil)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}

	md, ok := store.Lookup("12345.txt")
	if !ok || md.User != "alice" || md.Rating != 4 {
		t.Errorf("Lookup(12345.txt) = (%+v, %v), want alice rated 4", md, ok)
	}
}

// TestLoadMetadataSkipsMalformedRows verifies per-row resilience
func TestLoadMetadataSkipsMalformedRows(t *testing.T) {
	path := writeMetadataCSV(t,
		"review_id,user_id,rating\n"+
			"good,alice,5\n"+
			"short_row\n"+
			"bad_rating,bob,five\n"+
			"also_good,carol,1\n")

	store, err := LoadMetadata(path, nil)
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (malformed rows skipped)", store.Len())
	}
	if _, ok := store.Lookup("bad_rating.txt"); ok {
		t.Error("row with unparseable rating was loaded")
	}
	if _, ok := store.Lookup("also_good.txt"); !ok {
		t.Error("valid row after malformed rows was lost")
	}
}

// TestLoadMetadataErrors covers file- and header-level failures
func TestLoadMetadataErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadMetadata(filepath.Join(t.TempDir(), "absent.csv"), nil); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("missing required columns", func(t *testing.T) {
		path := writeMetadataCSV(t, "id,user,stars\n1,alice,5\n")
		if _, err := LoadMetadata(path, nil); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

// TestLookupUnknown tests lookups that must miss
func TestLookupUnknown(t *testing.T) {
	path := writeMetadataCSV(t, "review_id,user_id,rating\n12345,alice,5\n")
	store, err := LoadMetadata(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Lookup("99999.txt"); ok {
		t.Error("Lookup(unknown) reported found")
	}
	// Extension stripping only removes the final extension.
	if _, ok := store.Lookup("12345"); !ok {
		t.Error("Lookup without extension missed")
	}
}
