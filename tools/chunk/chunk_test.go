package chunk

import (
	"context"
	"strings"
	"testing"
)

func TestSplitShortTextIsOneChunk(t *testing.T) {
	chunks := Split("a short paragraph", 100, 10)
	if len(chunks) != 1 || chunks[0] != "a short paragraph" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	text := strings.Repeat("alpha ", 20) + "\n\n" + strings.Repeat("beta ", 20)
	chunks := Split(text, 150, 0)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "alpha") || strings.Contains(chunks[0], "beta") {
		t.Errorf("paragraph boundary crossed: %q", chunks[0])
	}
}

func TestSplitRespectsMaxChars(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	for _, c := range Split(text, 200, 20) {
		if len(c) > 200 {
			t.Errorf("chunk length %d exceeds max: %q", len(c), c)
		}
	}
}

func TestSplitOverlapCarriesSuffix(t *testing.T) {
	text := strings.Repeat("First sentence here. ", 10) + "\n\n" + strings.Repeat("Second block text. ", 10)
	chunks := Split(text, 120, 40)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %v", chunks)
	}
	// Some tail of chunk N re-appears at the head of chunk N+1.
	tail := chunks[0][len(chunks[0])-20:]
	words := strings.Fields(tail)
	if len(words) < 2 || !strings.Contains(chunks[1], words[len(words)-2]) {
		t.Errorf("no overlap between %q and %q", chunks[0], chunks[1])
	}
}

func TestSentenceBoundariesSkipAbbreviations(t *testing.T) {
	text := "Dr. Smith met Mr. Jones at 3.14 pm. They discussed Go. Everyone agreed."
	boundaries := sentenceBoundaries(text)
	for _, b := range boundaries {
		head := text[:b]
		if strings.HasSuffix(strings.TrimSpace(head), "Dr.") ||
			strings.HasSuffix(strings.TrimSpace(head), "Mr.") ||
			strings.HasSuffix(strings.TrimSpace(head), "3.") {
			t.Errorf("bad boundary after %q", head)
		}
	}
	if len(boundaries) < 2 {
		t.Errorf("boundaries = %v", boundaries)
	}
}

func TestSentenceBoundariesCJK(t *testing.T) {
	text := "これは文章です。次の文章。"
	if got := sentenceBoundaries(text); len(got) != 2 {
		t.Errorf("boundaries = %v", got)
	}
}

func TestSplitWordsHandlesOversizedWord(t *testing.T) {
	word := strings.Repeat("x", 50)
	chunks := splitWords("small "+word, 20)
	for _, c := range chunks {
		if len(c) > 20 {
			t.Errorf("chunk %q exceeds max", c)
		}
	}
}

func TestToolInvoke(t *testing.T) {
	tool := New()
	text := strings.Repeat("Sentence one lives here. ", 40)
	out, err := tool.Invoke(context.Background(), map[string]any{
		"text": text, "chunk_size": 200.0, "overlap": 20.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	chunks := m["chunks"].([]string)
	if len(chunks) < 2 || m["count"].(int) != len(chunks) {
		t.Fatalf("out = %+v", m)
	}
}

func TestToolInvokeEmptyText(t *testing.T) {
	if _, err := New().Invoke(context.Background(), map[string]any{"text": ""}); err == nil {
		t.Fatal("empty text accepted")
	}
}

func TestToolInvokeClampsOverlap(t *testing.T) {
	// overlap >= chunk_size must not loop forever.
	out, err := New().Invoke(context.Background(), map[string]any{
		"text": strings.Repeat("word ", 100), "chunk_size": 50, "overlap": 60,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.(map[string]any)["chunks"].([]string)) == 0 {
		t.Fatal("no chunks produced")
	}
}
