// Package chunk splits extracted document text into overlapping token
// windows, the unit of embedding and retrieval.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

const (
	DefaultSize    = 800
	DefaultOverlap = 100
	DefaultModel   = "gpt-4o"
)

// Tokenizer converts between text and token ids. Decode of a concatenation
// of token slices must equal the concatenation of their byte decodings.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the BPE encoding used by model.
func NewTiktoken(model string) (Tokenizer, error) {
	if model == "" {
		model = DefaultModel
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: load encoding for %s", model)
	}
	return &tiktokenizer{enc: enc}, nil
}

func (t *tiktokenizer) Encode(text string) []int { return t.enc.Encode(text, nil, nil) }

func (t *tiktokenizer) Decode(tokens []int) string { return t.enc.Decode(tokens) }

// Chunk is one window of the token stream, tokens [Start, End).
type Chunk struct {
	Index      int
	Content    string
	TokenCount int
	PageNumber int
	Start      int
	End        int
}

// Chunker is a fixed-size sliding window over tokens.
type Chunker struct {
	tok     Tokenizer
	Size    int
	Overlap int
}

// New validates size and overlap. overlap must be smaller than size so the
// window always advances.
func New(tok Tokenizer, size, overlap int) (*Chunker, error) {
	if tok == nil {
		return nil, eris.New("chunk: tokenizer is required")
	}
	if size <= 0 {
		return nil, eris.Errorf("chunk: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, eris.Errorf("chunk: overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{tok: tok, Size: size, Overlap: overlap}, nil
}

// Split windows the trimmed text. Each window is [start, start+Size); the
// next starts Overlap tokens before the previous end until the stream is
// exhausted. Window edges are moved onto rune boundaries so a byte-level
// token never splits a multi-byte character between two chunks. PageNumber
// is estimated from the blank lines before the window start, two per page,
// and is approximate.
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	// offsets[i] is the byte length of the text before tokens[i].
	offsets := make([]int, len(tokens)+1)
	for i := range tokens {
		offsets[i+1] = offsets[i] + len(c.tok.Decode(tokens[i:i+1]))
	}
	boundary := func(i int) bool {
		b := offsets[i]
		return b == 0 || b >= len(text) || utf8.RuneStart(text[b])
	}

	var chunks []Chunk
	for start := 0; start < len(tokens); {
		end := c.windowEnd(start, len(tokens), boundary)

		pos := min(offsets[start], len(text))
		page := max(1, strings.Count(text[:pos], "\n\n")/2+1)

		content := strings.ToValidUTF8(c.tok.Decode(tokens[start:end]), "")
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    strings.TrimSpace(content),
			TokenCount: end - start,
			PageNumber: page,
			Start:      start,
			End:        end,
		})

		if end < len(tokens) {
			start = c.nextStart(start, end, boundary)
		} else {
			start = end
		}
	}
	return chunks
}

// windowEnd is start+Size pulled back onto a rune boundary, or pushed
// forward when the window holds no boundary at all.
func (c *Chunker) windowEnd(start, n int, boundary func(int) bool) int {
	end := min(start+c.Size, n)
	for e := end; e > start; e-- {
		if boundary(e) {
			return e
		}
	}
	for end < n && !boundary(end) {
		end++
	}
	return end
}

// nextStart is Overlap tokens before end, moved back onto a rune boundary.
// It always lies past start so the window advances.
func (c *Chunker) nextStart(start, end int, boundary func(int) bool) int {
	s := end - c.Overlap
	for s > start && !boundary(s) {
		s--
	}
	if s > start {
		return s
	}
	for s = start + 1; s < end && !boundary(s); s++ {
	}
	return s
}

// Count returns the number of windows Split produces for n tokens when
// every token ends on a rune boundary.
func (c *Chunker) Count(n int) int {
	switch {
	case n <= 0:
		return 0
	case n <= c.Size:
		return 1
	}
	step := c.Size - c.Overlap
	return (n - c.Overlap + step - 1) / step
}
