// Index snapshot persistence.
//
// SERIALIZATION FORMAT:
// A snapshot is a single opaque binary file laid out as:
//
//  1. Magic number (4 bytes) - "GRIX" identifier for validation
//  2. Version (4 bytes, little-endian) - format version
//  3. Payload length (8 bytes, little-endian)
//  4. Payload - gzip-compressed CBOR encoding of the index state
//  5. CRC-32C checksum (4 bytes, little-endian) of the compressed payload
//
// The CBOR payload carries the forward index, inverted index, filename
// map, document count, and vocabulary size. The CBOR encoder runs in
// Core Deterministic Encoding mode, so identical index state always
// produces identical snapshot bytes. Posting bitmaps are not serialized;
// they are rebuilt from the inverted index on load.
//
// FAILURE SEMANTICS:
// Loading is all-or-nothing. Bad magic, an unsupported version, a
// truncated stream, a checksum mismatch, or a payload that violates the
// index duality invariant all fail with an error wrapping ErrBadSnapshot
// and leave no partially populated index behind. Snapshots carry no
// cross-version compatibility guarantee: the version field exists to
// reject foreign files, not to migrate them.

package goodreads

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/RoaringBitmap/roaring"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

// ErrBadSnapshot reports a malformed, truncated, or corrupt snapshot.
// All load-path failures wrap this sentinel so callers can errors.Is it.
var ErrBadSnapshot = errors.New("bad index snapshot")

const (
	snapshotMagic   = "GRIX"
	snapshotVersion = uint32(1)

	// maxSnapshotPayload bounds the compressed payload size accepted on
	// load (16 GiB), purely as a corruption guard.
	maxSnapshotPayload = uint64(16) << 30
)

// crcTable is the Castagnoli polynomial table used for payload checksums.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// snapshotEncMode is the CBOR encoder in Core Deterministic Encoding
// mode: sorted map keys, smallest integer encodings. Same index state,
// same bytes.
var snapshotEncMode cbor.EncMode

func init() {
	var err error
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot CBOR encoder initialization failed: " + err.Error())
	}
}

// indexSnapshot is the serialized shape of a DocumentIndex. The field
// order is fixed by the CBOR struct tags; derived scalars are stored
// explicitly so the loader can cross-check them against the maps.
type indexSnapshot struct {
	Forward   map[uint32]map[string]int `cbor:"1,keyasint"`
	Inverted  map[string]map[uint32]int `cbor:"2,keyasint"`
	Filenames map[uint32]string         `cbor:"3,keyasint"`
	DocCount  uint32                    `cbor:"4,keyasint"`
	VocabSize int                       `cbor:"5,keyasint"`
}

// WriteTo serializes the index to w in the snapshot format.
//
// Thread-safety: acquires the read lock for the duration of the encode.
//
// Returns:
//   - int64: Number of bytes written
//   - error: Returns error if encoding or writing fails
func (idx *DocumentIndex) WriteTo(w io.Writer) (int64, error) {
	idx.mu.RLock()
	snap := indexSnapshot{
		Forward:   idx.forward,
		Inverted:  idx.inverted,
		Filenames: idx.filenames,
		DocCount:  idx.nextID,
		VocabSize: len(idx.inverted),
	}
	encoded, err := snapshotEncMode.Marshal(snap)
	idx.mu.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(encoded); err != nil {
		return 0, fmt.Errorf("failed to compress index snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("failed to compress index snapshot: %w", err)
	}
	payload := compressed.Bytes()

	var bytesWritten int64

	if _, err := w.Write([]byte(snapshotMagic)); err != nil {
		return bytesWritten, fmt.Errorf("failed to write magic number: %w", err)
	}
	bytesWritten += 4

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], snapshotVersion)
	binary.LittleEndian.PutUint64(header[4:12], uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return bytesWritten, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	bytesWritten += 12

	if _, err := w.Write(payload); err != nil {
		return bytesWritten, fmt.Errorf("failed to write snapshot payload: %w", err)
	}
	bytesWritten += int64(len(payload))

	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, crc32.Checksum(payload, crcTable))
	if _, err := w.Write(footer); err != nil {
		return bytesWritten, fmt.Errorf("failed to write snapshot checksum: %w", err)
	}
	bytesWritten += 4

	return bytesWritten, nil
}

// ReadFrom replaces the index's state with a snapshot read from r.
//
// The incoming payload is fully validated before any state is
// installed: magic, version, length, checksum, CBOR decode, and the
// forward/inverted duality cross-check all pass or the index is left
// untouched.
//
// Thread-safety: acquires the write lock only for the final state swap.
//
// Returns:
//   - int64: Number of bytes read
//   - error: Wraps ErrBadSnapshot for any malformed or corrupt input
func (idx *DocumentIndex) ReadFrom(r io.Reader) (int64, error) {
	var bytesRead int64

	head := make([]byte, 16)
	n, err := io.ReadFull(r, head)
	bytesRead += int64(n)
	if err != nil {
		return bytesRead, fmt.Errorf("%w: failed to read header: %v", ErrBadSnapshot, err)
	}
	if string(head[0:4]) != snapshotMagic {
		return bytesRead, fmt.Errorf("%w: bad magic number %q", ErrBadSnapshot, head[0:4])
	}
	version := binary.LittleEndian.Uint32(head[4:8])
	if version != snapshotVersion {
		return bytesRead, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, version)
	}
	payloadLen := binary.LittleEndian.Uint64(head[8:16])
	// An implausible length means a corrupt header; fail before trying
	// to allocate it.
	if payloadLen > maxSnapshotPayload {
		return bytesRead, fmt.Errorf("%w: implausible payload length %d", ErrBadSnapshot, payloadLen)
	}

	payload := make([]byte, payloadLen)
	n, err = io.ReadFull(r, payload)
	bytesRead += int64(n)
	if err != nil {
		return bytesRead, fmt.Errorf("%w: truncated payload: %v", ErrBadSnapshot, err)
	}

	footer := make([]byte, 4)
	n, err = io.ReadFull(r, footer)
	bytesRead += int64(n)
	if err != nil {
		return bytesRead, fmt.Errorf("%w: missing checksum: %v", ErrBadSnapshot, err)
	}
	want := binary.LittleEndian.Uint32(footer)
	if got := crc32.Checksum(payload, crcTable); got != want {
		return bytesRead, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrBadSnapshot, got, want)
	}

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return bytesRead, fmt.Errorf("%w: failed to decompress payload: %v", ErrBadSnapshot, err)
	}
	encoded, err := io.ReadAll(gz)
	if err != nil {
		return bytesRead, fmt.Errorf("%w: failed to decompress payload: %v", ErrBadSnapshot, err)
	}
	if err := gz.Close(); err != nil {
		return bytesRead, fmt.Errorf("%w: failed to decompress payload: %v", ErrBadSnapshot, err)
	}

	var snap indexSnapshot
	if err := cbor.Unmarshal(encoded, &snap); err != nil {
		return bytesRead, fmt.Errorf("%w: failed to decode payload: %v", ErrBadSnapshot, err)
	}

	loaded := &DocumentIndex{
		forward:   snap.Forward,
		inverted:  snap.Inverted,
		filenames: snap.Filenames,
		nextID:    snap.DocCount,
	}
	if loaded.forward == nil {
		loaded.forward = make(map[uint32]map[string]int)
	}
	if loaded.inverted == nil {
		loaded.inverted = make(map[string]map[uint32]int)
	}
	if loaded.filenames == nil {
		loaded.filenames = make(map[uint32]string)
	}

	// Rebuild the posting bitmaps from the inverted index.
	loaded.postings = make(map[string]*roaring.Bitmap, len(loaded.inverted))
	for term, docs := range loaded.inverted {
		bitmap := roaring.New()
		for docID := range docs {
			bitmap.Add(docID)
		}
		loaded.postings[term] = bitmap
	}

	if len(loaded.forward) != int(snap.DocCount) {
		return bytesRead, fmt.Errorf("%w: document count %d disagrees with %d forward rows",
			ErrBadSnapshot, snap.DocCount, len(loaded.forward))
	}
	if len(loaded.inverted) != snap.VocabSize {
		return bytesRead, fmt.Errorf("%w: vocabulary size %d disagrees with %d inverted rows",
			ErrBadSnapshot, snap.VocabSize, len(loaded.inverted))
	}
	if err := loaded.validate(); err != nil {
		return bytesRead, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	idx.mu.Lock()
	idx.forward = loaded.forward
	idx.inverted = loaded.inverted
	idx.postings = loaded.postings
	idx.filenames = loaded.filenames
	idx.nextID = loaded.nextID
	idx.mu.Unlock()

	return bytesRead, nil
}

// SaveFile writes the index snapshot to path.
//
// The snapshot is written to a temporary file in the same directory and
// renamed into place, so a crash mid-write never leaves a truncated
// snapshot at the target path.
func (idx *DocumentIndex) SaveFile(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	if _, err := idx.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize snapshot file: %w", err)
	}
	idx.logger.Info("index snapshot saved", "path", path)
	return nil
}

// LoadIndexFile reads an index snapshot from path and returns the
// reconstructed index.
//
// A corrupt or truncated snapshot fails with an error wrapping
// ErrBadSnapshot; a partially populated index is never returned.
func LoadIndexFile(path string, logger *slog.Logger) (*DocumentIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	idx := NewDocumentIndex(logger)
	if _, err := idx.ReadFrom(f); err != nil {
		return nil, err
	}
	idx.logger.Info("index snapshot loaded", "path", path,
		"documents", idx.DocCount(), "vocabulary", idx.VocabSize())
	return idx, nil
}
