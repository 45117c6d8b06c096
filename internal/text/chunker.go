package text

import (
	"errors"
	"fmt"
	"unicode"
)

var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// DefaultSeparators is ordered from the strongest boundary to the weakest:
// paragraphs, lines, sentence ends, clause marks, words.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	"。", "！", "？",
	". ", "! ", "? ",
	"，", "、", ", ",
	" ",
}

// Span is one chunk together with its rune offsets in the source text.
type Span struct {
	Text  string
	Start int
	End   int
}

// Len returns the chunk length in characters.
func (s Span) Len() int {
	return s.End - s.Start
}

type SplitterOption func(*Splitter)

// WithSeparators replaces the separator list. Earlier entries win.
func WithSeparators(seps ...string) SplitterOption {
	return func(s *Splitter) {
		s.separators = s.separators[:0]
		for _, sep := range seps {
			if sep != "" {
				s.separators = append(s.separators, []rune(sep))
			}
		}
	}
}

// Splitter cuts text into chunks of at most size characters, where
// consecutive chunks share up to overlap characters.
type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

func NewSplitter(size, overlap int, opts ...SplitterOption) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, size)
	}

	s := &Splitter{size: size, overlap: overlap}
	for _, sep := range DefaultSeparators {
		s.separators = append(s.separators, []rune(sep))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// SplitText returns only the chunk texts of Split.
func (s *Splitter) SplitText(text string) []string {
	spans := s.Split(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// Split walks the text with a window of size characters. Each window is cut
// after the strongest separator it contains, provided the resulting chunk is
// longer than the overlap; without such a separator the window is cut raw.
// The next window starts inside the last overlap characters of the previous
// chunk, on a word or separator boundary when there is one.
// A chunk made only of whitespace is never emitted: the walk skips to the
// next non-space character instead, so any gap between consecutive chunks is
// whitespace.
func (s *Splitter) Split(text string) []Span {
	if text == "" {
		return nil
	}

	r := []rune(text)
	n := len(r)

	var spans []Span
	pos := 0
	for pos < n {
		end := pos + s.size
		if end >= n {
			end = n
		} else {
			end = s.breakPoint(r, pos, end)
		}
		if blank(r[pos:end]) {
			pos = skipSpace(r, pos)
			continue
		}
		spans = append(spans, Span{Text: string(r[pos:end]), Start: pos, End: end})

		if end == n {
			break
		}
		pos = s.nextStart(r, pos, end)
	}
	return spans
}

// breakPoint returns the offset just after the last occurrence of the
// highest-priority separator in r[pos:limit] that keeps the chunk longer than
// the overlap, or limit when no separator qualifies.
func (s *Splitter) breakPoint(r []rune, pos, limit int) int {
	for _, sep := range s.separators {
		for i := limit - len(sep); i >= pos; i-- {
			if i+len(sep)-pos <= s.overlap {
				break
			}
			if hasAt(r, i, sep) {
				return i + len(sep)
			}
		}
	}
	return limit
}

func (s *Splitter) nextStart(r []rune, pos, end int) int {
	if s.overlap == 0 {
		return end
	}
	lo := end - s.overlap
	if lo <= pos {
		lo = pos + 1
	}
	for p := lo; p < end; p++ {
		if s.isBoundary(r, p) {
			return p
		}
	}
	return lo
}

func (s *Splitter) isBoundary(r []rune, p int) bool {
	if p == 0 || unicode.IsSpace(r[p]) {
		return false
	}
	if unicode.IsSpace(r[p-1]) {
		return true
	}
	for _, sep := range s.separators {
		if p-len(sep) >= 0 && hasAt(r, p-len(sep), sep) {
			return true
		}
	}
	return false
}

func blank(r []rune) bool {
	for _, c := range r {
		if !unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

func skipSpace(r []rune, pos int) int {
	for pos < len(r) && unicode.IsSpace(r[pos]) {
		pos++
	}
	return pos
}

func hasAt(r []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(r) {
		return false
	}
	for j, c := range sep {
		if r[i+j] != c {
			return false
		}
	}
	return true
}
