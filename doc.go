/*
Package goodreads implements an information-retrieval engine over a
large text-review corpus.

The engine builds a bidirectional term/document frequency index from
documents stored in a compressed zip archive and serves ranked search
using the Binary Independence Model (BIM), a probabilistic retrieval
model. It is a from-scratch implementation: tokenization, stemming,
indexing, persistence, and ranking are all in this package.

# Overview

The pipeline runs leaf-first:

	zip archive ──▶ parallel indexer ──▶ document index ──▶ BIM model ──▶ ranked hits

The indexer fans out across workers; the index has a single writer; the
model is a read-only consumer.

  - Normalizer: lowercases, segments (UAX#29), strips special
    characters, drops stopwords and non-alphabetic tokens, and applies
    Snowball English stemming. The same Normalizer value must be used
    for documents and queries.
  - DocumentIndex: forward (doc → term → freq) and inverted
    (term → doc → freq) views of one set of facts, updated atomically
    together, with roaring posting bitmaps per term and dense,
    insertion-ordered document IDs.
  - ZipCorpus: lists and streams documents straight out of the archive
    without extraction; each parallel worker opens its own handle.
  - ArchiveIndexer: fans normalization out across a worker pool and
    merges results through a single writer, so the expensive phase runs
    lock-free and ID assignment stays deterministic per run.
  - BIMModel: scores candidate documents (union of the query terms'
    postings) with the closed-form RSV formula and returns the top k.

# Quick Start

Build an index from an archive and search it:

	package main

	import (
	    "context"
	    "fmt"
	    "log"

	    "github.com/mdb42/goodreads"
	)

	func main() {
	    stopwords, err := goodreads.LoadStopwords("stopwords.txt")
	    if err != nil {
	        log.Fatal(err)
	    }
	    normalizer := goodreads.NewNormalizer(stopwords, nil)

	    indexer := goodreads.NewArchiveIndexer("reviews.zip", normalizer,
	        goodreads.DefaultBuildOptions())
	    index, err := indexer.Build(context.Background())
	    if err != nil {
	        log.Fatal(err)
	    }

	    if err := index.SaveFile("reviews.idx"); err != nil {
	        log.Fatal(err)
	    }

	    model := goodreads.NewBIMModel(index, normalizer, nil)
	    for i, hit := range model.Search("wizard school adventure", 10) {
	        fmt.Printf("%d. %s (%.4f)\n", i+1, hit.Source, hit.Score)
	    }
	}

# Persistence

An index round-trips through a single opaque snapshot file — magic
number, format version, gzip-compressed CBOR payload, CRC-32C checksum.
Loading validates the whole file before installing any state, so a
corrupt snapshot fails loudly rather than yielding a partially
populated index:

	index, err := goodreads.LoadIndexFile("reviews.idx", nil)
	if errors.Is(err, goodreads.ErrBadSnapshot) {
	    // rebuild from the archive
	}

# Concurrency

DocumentIndex accessors and AddDocument are safe for concurrent use.
The parallel build confines synchronization to the merge phase by
construction: workers are pure functions from (archive path, batch of
names) to (name, term-frequency) pairs and share no mutable state.
Document IDs across a parallel build follow batch completion order, not
archive order; the index is content-addressed by term and document, so
relabeling between runs is harmless.
*/
package goodreads
