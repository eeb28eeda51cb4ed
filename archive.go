// Zip corpus reader.
//
// Review corpora ship as a single zip archive with one .txt file per
// document. The reader lists and streams individual documents straight
// out of the archive without extracting anything to disk.
//
// CONCURRENCY MODEL:
// A ZipCorpus wraps one read-only archive handle and is not synchronized
// internally. Parallel consumers each open their own ZipCorpus against
// the same path — the archive itself is never written, so independent
// handles are safe and avoid any shared mutable file-handle state.

package goodreads

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ZipCorpus reads a document collection directly from a zip archive.
type ZipCorpus struct {
	path string
	rc   *zip.ReadCloser
	// entry name -> file, for O(1) document lookup
	entries map[string]*zip.File
}

// OpenZipCorpus opens the archive at path for reading.
//
// A missing or unreadable archive is a configuration error and fails
// immediately; no partial state is created.
func OpenZipCorpus(path string) (*ZipCorpus, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus archive %s: %w", path, err)
	}
	entries := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		entries[f.Name] = f
	}
	return &ZipCorpus{path: path, rc: rc, entries: entries}, nil
}

// Path returns the archive path this corpus was opened from.
func (c *ZipCorpus) Path() string {
	return c.path
}

// List returns the names of all indexable (.txt) entries in the
// archive, in archive order.
func (c *ZipCorpus) List() []string {
	var names []string
	for _, f := range c.rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasSuffix(f.Name, ".txt") {
			names = append(names, f.Name)
		}
	}
	return names
}

// ReadDocument returns the decoded text of the named archive entry.
//
// Undecodable bytes are replaced with the Unicode replacement character
// rather than failing: a document with a few bad bytes is still worth
// indexing. A missing entry or an I/O failure mid-read is an error.
func (c *ZipCorpus) ReadDocument(name string) (string, error) {
	f, ok := c.entries[name]
	if !ok {
		return "", fmt.Errorf("document %s not found in archive %s", name, c.path)
	}
	r, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", name, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// Close releases the underlying archive handle.
func (c *ZipCorpus) Close() error {
	return c.rc.Close()
}
