package text

import (
	"regexp"
	"strings"
)

const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 200
)

// Chunk is a bounded, sequence-numbered text segment derived from one source.
// Index is 1-based and contiguous within a (source kind, origin) pair.
type Chunk struct {
	SourceKind string
	Origin     string
	Index      int
	Content    string
	Length     int
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	disallowedRe  = regexp.MustCompile(`[^\w\s.,!?;:()\[\]"'/@#$%&*+=-]`)
	repeatPunctRe = regexp.MustCompile(`([.!?]){2,}`)
	sentenceEndRe = regexp.MustCompile(`[.!?]\s`)
)

// CleanText normalizes raw extracted text before chunking: whitespace runs
// collapse to a single space, characters outside the allow-listed punctuation
// set are stripped, and repeated terminal punctuation collapses ("!!!" -> "!").
func CleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, "")
	text = repeatPunctRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// splitSentences splits cleaned text into sentence-like units on terminal
// punctuation followed by whitespace. The punctuation stays with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

type Chunker struct {
	maxChunkSize int
	overlap      int
}

func NewChunker(maxChunkSize, overlap int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	return &Chunker{maxChunkSize: maxChunkSize, overlap: overlap}
}

// Chunk splits text into bounded, overlapping segments. Sentences accumulate
// greedily into a buffer; once the buffer grows past maxChunkSize the chunk is
// closed and the next buffer is seeded with the trailing overlap window of the
// closed one. A single sentence is never split mid-sentence, so one oversized
// sentence can push a chunk past maxChunkSize by its own length.
//
// The function is pure and deterministic: identical input always yields the
// identical chunk sequence. Indices start at 1 and are contiguous.
func (c *Chunker) Chunk(text, sourceKind, origin string) []Chunk {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil
	}

	var chunks []Chunk
	emit := func(content string) {
		content = strings.TrimSpace(content)
		chunks = append(chunks, Chunk{
			SourceKind: sourceKind,
			Origin:     origin,
			Index:      len(chunks) + 1,
			Content:    content,
			Length:     len(content),
		})
	}

	var buf string
	seeded := false // buf holds only the overlap carried from the previous chunk
	for _, sentence := range splitSentences(cleaned) {
		if buf == "" {
			buf = sentence
		} else {
			buf += " " + sentence
		}
		seeded = false

		if len(buf) > c.maxChunkSize {
			emit(buf)
			buf = c.overlapTail(buf)
			seeded = true
		}
	}

	if !seeded && strings.TrimSpace(buf) != "" {
		emit(buf)
	}

	return chunks
}

// overlapTail returns the trailing overlap window of a closed buffer. The cut
// is rune-based so a multi-byte character is never split.
func (c *Chunker) overlapTail(buf string) string {
	if c.overlap == 0 {
		return ""
	}
	runes := []rune(buf)
	if len(runes) <= c.overlap {
		return buf
	}
	return string(runes[len(runes)-c.overlap:])
}
