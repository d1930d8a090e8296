package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunk is a contiguous slice of a transcript.
type Chunk struct {
	Index  int    // position in the transcript, 0-based
	Offset int    // byte offset of Text in the transcript
	Text   string // exact substring, separators included
}

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words,
// then single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping chunks of at most Size runes.
//
// Text is first cut on the coarsest separator present; pieces still longer than
// Size are cut again with the finer separators. The resulting pieces tile the
// text and are packed greedily into chunks. Consecutive chunks share whole
// trailing pieces totalling at most Overlap runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter validates size and overlap (0 <= overlap < size).
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// piece is a byte span [start, end) of the text with its length in runes.
type piece struct {
	start, end int
	n          int
}

// Split returns the chunks of text in order. Empty or whitespace-only text
// yields no chunks; so do whitespace-only windows, which only occur inside
// whitespace runs longer than the chunk size.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := s.pieces(text, 0, len(text), s.separators, nil)

	var (
		chunks []Chunk
		window []piece
		total  int
	)
	emit := func() {
		start, end := window[0].start, window[len(window)-1].end
		if strings.TrimSpace(text[start:end]) == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: start, Text: text[start:end]})
	}

	for _, p := range pieces {
		if total+p.n > s.size && len(window) > 0 {
			emit()
			for total > s.overlap || (total+p.n > s.size && total > 0) {
				total -= window[0].n
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.n
	}
	if len(window) > 0 {
		emit()
	}
	return chunks
}

// pieces appends to out the spans of text[start:end], each at most s.size runes.
func (s *Splitter) pieces(text string, start, end int, seps []string, out []piece) []piece {
	seg := text[start:end]
	if n := utf8.RuneCountInString(seg); n <= s.size {
		return append(out, piece{start: start, end: end, n: n})
	}

	sep, rest := pickSeparator(seg, seps)
	if sep == "" {
		for i := 0; i < len(seg); {
			_, w := utf8.DecodeRuneInString(seg[i:])
			out = append(out, piece{start: start + i, end: start + i + w, n: 1})
			i += w
		}
		return out
	}

	pos := start
	for pos < end {
		cut := end
		if i := strings.Index(text[pos:end], sep); i >= 0 {
			cut = pos + i + len(sep)
		}
		out = s.pieces(text, pos, cut, rest, out)
		pos = cut
	}
	return out
}

// pickSeparator returns the first separator present in seg and the finer ones
// after it. The empty separator always matches.
func pickSeparator(seg string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(seg, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}
