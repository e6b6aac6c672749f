package rag

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

// Chunking defaults for world-bible notes.
const (
	chunkSize    = 500
	chunkOverlap = 50
)

// stopwordChecker filters filler tokens out of keyword extraction.
var stopwordChecker = stopwords.MustGet("en")

// Chunk is one indexed slice of a source document.
type Chunk struct {
	ID       string         `json:"id"`
	StoryID  string         `json:"story_id"`
	Source   string         `json:"source"`
	Text     string         `json:"text"`
	Position int            `json:"position"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SplitText cuts a document into overlapping chunks, preferring paragraph
// boundaries over hard cuts. Sizes are in runes so CJK text chunks evenly.
func SplitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var blocks []string
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		blocks = append(blocks, p)
	}

	var chunks []string
	var current []rune
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, string(current))
		if len(current) > chunkOverlap {
			current = append([]rune(nil), current[len(current)-chunkOverlap:]...)
		} else {
			current = nil
		}
	}

	room := func() int {
		r := chunkSize - len(current)
		if len(current) > 0 {
			r-- // separator rune
		}
		return r
	}
	for _, block := range blocks {
		runes := []rune(block)
		for len(runes) > 0 {
			if room() <= 0 {
				flush()
			}
			take := len(runes)
			if r := room(); take > r {
				take = r
			}
			if len(current) > 0 {
				current = append(current, '\n')
			}
			current = append(current, runes[:take]...)
			runes = runes[take:]
			if len(current) >= chunkSize {
				flush()
			}
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// Keywords extracts the distinct content-bearing tokens of a text for the
// keyword-fallback search: lowercase terms with stop words removed. CJK runs
// are additionally split into bigrams so short Chinese queries still match.
func Keywords(text string) []string {
	var tokens []string
	var current strings.Builder
	flushLatin := func() {
		if current.Len() == 0 {
			return
		}
		token := strings.ToLower(current.String())
		current.Reset()
		if len(token) < 2 || stopwordChecker.Contains(token) {
			return
		}
		tokens = append(tokens, token)
	}

	var cjkRun []rune
	flushCJK := func() {
		if len(cjkRun) == 0 {
			return
		}
		if len(cjkRun) == 1 {
			tokens = append(tokens, string(cjkRun))
		}
		for i := 0; i+1 < len(cjkRun); i++ {
			tokens = append(tokens, string(cjkRun[i:i+2]))
		}
		cjkRun = nil
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			current.WriteRune(r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()

	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
