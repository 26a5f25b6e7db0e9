package chunker

import (
	"strings"
	"testing"
)

// wordCounter makes token budgets deterministic in tests.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "simple sentences",
			text: "First sentence. Second sentence! Third sentence?",
			want: []string{"First sentence.", "Second sentence!", "Third sentence?"},
		},
		{
			name: "blank line is a hard boundary",
			text: "No terminator here\n\nNext paragraph.",
			want: []string{"No terminator here", "Next paragraph."},
		},
		{
			name: "numeric listing does not split",
			text: "Step 1. do this and step 2. do that.",
			want: []string{"Step 1. do this and step 2. do that."},
		},
		{
			name: "trailing quote stays attached",
			text: `She said "stop." Then left.`,
			want: []string{`She said "stop."`, "Then left."},
		},
		{
			name: "empty input",
			text: "   \n  \n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoSentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sentences %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunker_Split(t *testing.T) {
	c := New(Params{MaxTokens: 6, Counter: wordCounter{}})

	text := "One two three. Four five six. Seven eight nine ten eleven twelve thirteen."
	chunks := c.Split("doc1", text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "One two three. Four five six." {
		t.Errorf("unexpected first chunk: %q", chunks[0].Text)
	}
	if chunks[1].Text != "Seven eight nine ten eleven twelve thirteen." {
		t.Errorf("unexpected second chunk: %q", chunks[1].Text)
	}
	for i, ch := range chunks {
		if ch.SequenceIndex != i {
			t.Errorf("chunk %d has sequence index %d", i, ch.SequenceIndex)
		}
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d has document id %q", i, ch.DocumentID)
		}
		if ch.ID == "" {
			t.Errorf("chunk %d has empty id", i)
		}
	}
}

func TestChunker_Split_OversizedSentence(t *testing.T) {
	c := New(Params{MaxTokens: 2, Counter: wordCounter{}})

	chunks := c.Split("doc1", "This single sentence is far too long for the budget.")
	if len(chunks) != 1 {
		t.Fatalf("expected oversized sentence to become one chunk, got %d", len(chunks))
	}
}

func TestChunker_Split_Empty(t *testing.T) {
	c := New(Params{Counter: wordCounter{}})
	if chunks := c.Split("doc1", "  \n "); chunks != nil {
		t.Errorf("expected nil for blank input, got %+v", chunks)
	}
}
