// Package goodreads text normalization.
//
// WHAT IS TEXT NORMALIZATION?
// Before any text can be indexed or searched, it has to be reduced to a
// canonical stream of terms so that surface variants of the same word
// ("Book", "books", "book!") collapse to a single index entry. The same
// pipeline must run over documents at index time and over queries at
// search time — if the two sides disagree, term matching silently breaks.
//
// PIPELINE (in order):
//  1. Unicode normalization (NFKC) and lowercasing
//  2. UAX#29 word segmentation
//  3. Strip configured special characters from each token
//  4. Drop tokens that are not purely alphabetic or that are stopwords
//  5. Snowball (Porter-family) English stemming
//
// The Normalizer is a plain value constructed once from its stopword and
// special-character configuration and passed explicitly to both the
// indexing and retrieval sides. It holds no hidden global state.
package goodreads

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"github.com/kljensen/snowball/english"
	"golang.org/x/text/unicode/norm"
)

// Normalizer converts raw text into a sequence of normalized terms.
//
// The zero value is usable and applies no stopword or special-character
// filtering. Normalizer values are cheap to copy and safe for concurrent
// use: all fields are read-only after construction.
type Normalizer struct {
	stopwords map[string]struct{}
	special   map[rune]struct{}
}

// NewNormalizer creates a Normalizer with the given stopword and
// special-character configuration.
//
// Stopwords are compared after lowercasing, so the list may be supplied
// in any case. Each entry of specialChars contributes every rune it
// contains to the strip set (a line like "--" behaves the same as "-").
//
// Parameters:
//   - stopwords: Terms to exclude from the output (may be nil)
//   - specialChars: Characters to strip from each token before filtering (may be nil)
//
// Returns:
//   - Normalizer: A ready-to-use normalizer value
//
// Example:
//
//	n := NewNormalizer([]string{"the", "and"}, []string{"'"})
//	terms := n.Normalize("The cats ran quickly")
func NewNormalizer(stopwords, specialChars []string) Normalizer {
	n := Normalizer{}
	if len(stopwords) > 0 {
		n.stopwords = make(map[string]struct{}, len(stopwords))
		for _, w := range stopwords {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				n.stopwords[w] = struct{}{}
			}
		}
	}
	if len(specialChars) > 0 {
		n.special = make(map[rune]struct{})
		for _, s := range specialChars {
			for _, r := range strings.TrimSpace(s) {
				n.special[r] = struct{}{}
			}
		}
	}
	return n
}

// LoadStopwords reads a stopword list from a file, one term per line.
// Blank lines are ignored and terms are lowercased. An empty path yields
// an empty list rather than an error, matching the optional nature of
// the configuration.
func LoadStopwords(path string) ([]string, error) {
	return loadLines(path, true)
}

// LoadSpecialChars reads a special-character list from a file, one entry
// per line. Blank lines are ignored. An empty path yields an empty list.
func LoadSpecialChars(path string) ([]string, error) {
	return loadLines(path, false)
}

func loadLines(path string, lower bool) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open word list %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lower {
			line = strings.ToLower(line)
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word list %s: %w", path, err)
	}
	return lines, nil
}

// Normalize converts raw text into its sequence of index terms.
//
// Empty or all-filtered input yields a nil slice, never an error.
// The output is a pure function of the input text and the normalizer's
// configuration: identical inputs always produce identical sequences.
//
// Parameters:
//   - text: Raw document or query text
//
// Returns:
//   - []string: Normalized terms in order of appearance
func (n Normalizer) Normalize(text string) []string {
	if text == "" {
		return nil
	}

	lowered := strings.ToLower(norm.NFKC.String(text))

	var terms []string
	tokens := words.FromString(lowered)
	for tokens.Next() {
		tok := tokens.Value()
		if len(n.special) > 0 {
			tok = n.stripSpecial(tok)
		}
		if tok == "" || !isAlphabetic(tok) {
			continue
		}
		if _, stop := n.stopwords[tok]; stop {
			continue
		}
		terms = append(terms, english.Stem(tok, false))
	}
	return terms
}

// TermFrequencies normalizes text and counts occurrences of each term.
//
// Returns nil when the text normalizes to nothing, so callers can treat
// unusable documents uniformly with empty ones.
func (n Normalizer) TermFrequencies(text string) map[string]int {
	terms := n.Normalize(text)
	if len(terms) == 0 {
		return nil
	}
	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	return freqs
}

// stripSpecial removes every configured special character from the token.
func (n Normalizer) stripSpecial(tok string) string {
	return strings.Map(func(r rune) rune {
		if _, ok := n.special[r]; ok {
			return -1
		}
		return r
	}, tok)
}

// isAlphabetic reports whether the token consists solely of letters.
// Tokens containing digits, punctuation, or symbols are not indexable.
func isAlphabetic(tok string) bool {
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
