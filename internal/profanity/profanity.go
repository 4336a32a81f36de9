// Package profanity matches recognized speech against a fixed set of words.
//
// Matching is exact-token and case-insensitive: text is split on whitespace,
// each token is lowercased and looked up in a [WordSet], first as spoken and
// then stripped of leading or trailing punctuation. Substrings of longer
// words never match ("shellfish" does not contain a match for "hell").
// Word list entries are only trimmed of whitespace, so "a$$" stays "a$$".
package profanity

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode"
)

// DefaultWords is the built-in word list.
var DefaultWords = []string{
	"fuck", "shit", "bitch", "asshole", "bastard", "damn", "crap",
	"dick", "piss", "bollocks", "bugger", "bloody", "hell",
}

// WordSet is an immutable set of lowercase tokens. The zero value is an empty
// set.
type WordSet struct {
	words map[string]struct{}
}

// NewWordSet builds a set from words. Entries are trimmed of whitespace and
// lowercased; blank entries are skipped.
func NewWordSet(words ...string) WordSet {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = struct{}{}
		}
	}
	return WordSet{words: m}
}

// Default returns a set holding [DefaultWords].
func Default() WordSet { return NewWordSet(DefaultWords...) }

// Union returns a new set holding the words of both sets.
func (ws WordSet) Union(other WordSet) WordSet {
	m := make(map[string]struct{}, len(ws.words)+len(other.words))
	for w := range ws.words {
		m[w] = struct{}{}
	}
	for w := range other.words {
		m[w] = struct{}{}
	}
	return WordSet{words: m}
}

// Contains reports whether the lowercase token w is in the set.
func (ws WordSet) Contains(w string) bool {
	_, ok := ws.words[w]
	return ok
}

// Len returns the number of distinct words.
func (ws WordSet) Len() int { return len(ws.words) }

// Words returns the words in sorted order.
func (ws WordSet) Words() []string {
	out := make([]string, 0, len(ws.words))
	for w := range ws.words {
		out = append(out, w)
	}
	slices.Sort(out)
	return out
}

// ReadWordList parses a word list: UTF-8, one token per line, blank lines
// ignored, tokens trimmed and lowercased.
func ReadWordList(r io.Reader) (WordSet, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return WordSet{}, fmt.Errorf("profanity: read word list: %w", err)
	}
	return NewWordSet(words...), nil
}

// LoadWordList returns the default set unioned with the words in path. An
// empty path returns the default set alone.
func LoadWordList(path string) (WordSet, error) {
	ws := Default()
	if path == "" {
		return ws, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return WordSet{}, fmt.Errorf("profanity: open word list: %w", err)
	}
	defer f.Close()

	extra, err := ReadWordList(f)
	if err != nil {
		return WordSet{}, err
	}
	return ws.Union(extra), nil
}

// Detect returns the sorted, distinct tokens of text that are in ws. An empty
// result means no action.
func Detect(text string, ws WordSet) []string {
	var matches []string
	for _, tok := range strings.Fields(text) {
		tok, ok := lookup(strings.ToLower(tok), ws)
		if !ok {
			continue
		}
		if !slices.Contains(matches, tok) {
			matches = append(matches, tok)
		}
	}
	slices.Sort(matches)
	return matches
}

// lookup tries tok as spoken, then with edge punctuation removed from one or
// both sides. Symbols are stripped only when punctuation alone is not enough,
// so "a$$!" finds "a$$" and "$hit!" finds "$hit".
func lookup(tok string, ws WordSet) (string, bool) {
	if ws.Contains(tok) {
		return tok, true
	}
	for _, edge := range []func(rune) bool{unicode.IsPunct, isPunctOrSymbol} {
		for _, cand := range []string{
			strings.TrimRightFunc(tok, edge),
			strings.TrimLeftFunc(tok, edge),
			strings.TrimFunc(tok, edge),
		} {
			if cand != "" && ws.Contains(cand) {
				return cand, true
			}
		}
	}
	return "", false
}

func isPunctOrSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
