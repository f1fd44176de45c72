package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeTokenizer treats every rune as one token so offsets are easy to
// reason about.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteRune(rune(t))
	}
	return sb.String()
}

func newChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(runeTokenizer{}, size, overlap)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(runeTokenizer{}, 0, 0)
	assert.ErrorContains(t, err, "size must be positive")

	_, err = New(runeTokenizer{}, 10, 10)
	assert.ErrorContains(t, err, "overlap 10 must be in [0, 10)")

	_, err = New(runeTokenizer{}, 10, -1)
	assert.Error(t, err)

	_, err = New(nil, 10, 1)
	assert.ErrorContains(t, err, "tokenizer is required")
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	c := newChunker(t, 800, 100)
	chunks := c.Split("   Aviso de licitação\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Aviso de licitação", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, len([]rune("Aviso de licitação")), chunks[0].TokenCount)
}

func TestSplit_Empty(t *testing.T) {
	c := newChunker(t, 10, 2)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split(" \n\t "))
}

func TestSplit_OverlapAndCoverage(t *testing.T) {
	tests := []struct {
		n, size, overlap int
	}{
		{25, 10, 2},
		{26, 10, 2},
		{100, 10, 3},
		{11, 10, 9},
		{800, 800, 100},
		{2500, 800, 100},
		{30, 10, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/size=%d/overlap=%d", tt.n, tt.size, tt.overlap), func(t *testing.T) {
			c := newChunker(t, tt.size, tt.overlap)
			chunks := c.Split(strings.Repeat("x", tt.n))

			require.Len(t, chunks, c.Count(tt.n))
			assert.Equal(t, 0, chunks[0].Start)
			assert.Equal(t, tt.n, chunks[len(chunks)-1].End)
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Index)
				assert.LessOrEqual(t, ch.End-ch.Start, tt.size)
				assert.Equal(t, ch.End-ch.Start, ch.TokenCount)
				if i == 0 {
					continue
				}
				prev := chunks[i-1]
				// Consecutive windows share exactly overlap tokens and leave no gap.
				assert.Equal(t, tt.overlap, prev.End-ch.Start, "chunk %d", i)
			}
		})
	}
}

func TestCount_Formula(t *testing.T) {
	c := newChunker(t, 800, 100)
	assert.Equal(t, 0, c.Count(0))
	assert.Equal(t, 1, c.Count(800))
	// ceil((801-100)/700) = 2
	assert.Equal(t, 2, c.Count(801))
	// ceil((1500-100)/700) = 2
	assert.Equal(t, 2, c.Count(1500))
	assert.Equal(t, 3, c.Count(1501))
}

func TestSplit_Deterministic(t *testing.T) {
	c := newChunker(t, 7, 2)
	text := "Objeto da licitação: aquisição de licenças de software."
	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestSplit_PageEstimate(t *testing.T) {
	// Pages are separated by blank lines; two blank lines per page.
	page := strings.Repeat("a", 20)
	text := strings.Join([]string{page, page, page, page, page, page}, "\n\n")
	c := newChunker(t, 22, 0)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].PageNumber)
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].PageNumber, chunks[i-1].PageNumber)
	}
	assert.Equal(t, 3, chunks[len(chunks)-1].PageNumber)
}

type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func TestSplit_ContentIsValidUTF8(t *testing.T) {
	// A byte-level tokenizer can cut a multi-byte rune at a window edge.
	c, err := New(byteTokenizer{}, 3, 1)
	require.NoError(t, err)

	for _, ch := range c.Split("ação ção") {
		assert.True(t, strings.ToValidUTF8(ch.Content, "") == ch.Content, "chunk %d", ch.Index)
	}
}

func TestSplit_ZeroOverlapKeepsAccentsAtEdges(t *testing.T) {
	// 3-byte windows over a byte tokenizer land inside ç, ã and ô.
	text := "habilitaçãojurídicaeconômica"
	c, err := New(byteTokenizer{}, 3, 0)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	var sb strings.Builder
	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Content), "chunk %d", i)
		assert.LessOrEqual(t, ch.TokenCount, 3)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End, ch.Start, "chunk %d", i)
		}
		sb.WriteString(ch.Content)
	}
	assert.Equal(t, text, sb.String())
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
}

func TestSplit_OverlapStartsOnRuneBoundary(t *testing.T) {
	text := "licitaçãopúblicadeserviços"
	c, err := New(byteTokenizer{}, 5, 2)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.True(t, utf8.RuneStart(text[ch.Start]), "chunk %d", i)
		assert.True(t, strings.HasPrefix(text[ch.Start:], ch.Content), "chunk %d", i)
		if i > 0 {
			assert.Greater(t, ch.Start, chunks[i-1].Start)
			assert.LessOrEqual(t, ch.Start, chunks[i-1].End)
		}
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
}
