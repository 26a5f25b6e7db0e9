// Package chunker splits raw document text into token-bounded chunks
// along sentence boundaries.
package chunker

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/model"
)

const defaultMaxTokens = 512

// TokenCounter reports how many model tokens a piece of text costs.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "o200k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatedCounter approximates token cost at four bytes per token.
// Used when no encoding is available.
type EstimatedCounter struct{}

func (EstimatedCounter) Count(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Chunker groups sentences into chunks of at most MaxTokens tokens.
// A single sentence longer than the budget becomes its own chunk.
type Chunker struct {
	maxTokens int
	counter   TokenCounter
}

// Params configures a Chunker. A nil Counter falls back to the
// byte-length estimate; MaxTokens <= 0 uses the default budget.
type Params struct {
	MaxTokens int
	Counter   TokenCounter
}

func New(params Params) *Chunker {
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultMaxTokens
	}
	if params.Counter == nil {
		params.Counter = EstimatedCounter{}
	}
	return &Chunker{
		maxTokens: params.MaxTokens,
		counter:   params.Counter,
	}
}

// Split turns raw text into ordered chunks for the given document.
// Sequence indices are assigned in document order starting at zero.
func (c *Chunker) Split(documentID string, text string) []model.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []model.Chunk
	chunkStart := -1
	chunkEnd := -1

	flushChunk := func() {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return
		}

		var chunkText strings.Builder
		for i := chunkStart; i < chunkEnd; i++ {
			if i > chunkStart {
				chunkText.WriteString(" ")
			}
			chunkText.WriteString(sentences[i])
		}

		chunks = append(chunks, model.Chunk{
			ID:            util.NewID(),
			DocumentID:    documentID,
			SequenceIndex: len(chunks),
			Text:          strings.TrimSpace(chunkText.String()),
		})
		chunkStart = -1
		chunkEnd = -1
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		var testText strings.Builder
		for j := chunkStart; j <= i; j++ {
			if j > chunkStart {
				testText.WriteString(" ")
			}
			testText.WriteString(sentences[j])
		}

		if c.counter.Count(testText.String()) <= c.maxTokens {
			chunkEnd = i + 1
		} else {
			flushChunk()
			chunkStart = i
			chunkEnd = i + 1
		}
	}

	flushChunk()

	return chunks
}

// splitIntoSentences breaks text on sentence-ending punctuation, with
// blank lines acting as hard boundaries. Numeric listings ("1. foo")
// do not terminate a sentence.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var currentSentence strings.Builder

	flush := func() {
		if currentSentence.Len() > 0 {
			sentences = append(sentences, strings.TrimSpace(currentSentence.String()))
			currentSentence.Reset()
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		for _, sentence := range splitLineIntoSentences(trimmed) {
			if currentSentence.Len() > 0 {
				currentSentence.WriteString(" ")
			}
			currentSentence.WriteString(sentence)

			switch {
			case strings.HasSuffix(sentence, "."),
				strings.HasSuffix(sentence, "!"),
				strings.HasSuffix(sentence, "?"):
				flush()
			}
		}
	}

	flush()

	var result []string
	for _, sentence := range sentences {
		if strings.TrimSpace(sentence) != "" {
			result = append(result, sentence)
		}
	}

	return result
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] == '.' || line[i] == '!' || line[i] == '?' {
			isNumericListing := false

			if i > 0 && unicode.IsDigit(rune(line[i-1])) {
				if i+1 < len(line) && line[i+1] == ' ' {
					isNumericListing = true
				}
			}

			if isNumericListing {
				continue
			}
			j := i + 1
			for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
				current.WriteByte(line[j])
				j++
			}

			for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
				line[j] == ']' || line[j] == '}') {
				current.WriteByte(line[j])
				j++
			}

			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
			i = j - 1
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}
