package snippet

import (
	"strings"
	"testing"

	"github.com/truthledger/ledger/internal/model"
)

func TestPartitionPlainTextParagraphLocators(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here."
	cands := PartitionPlainText(text)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(cands), cands)
	}
	if cands[0].Locator != "p[1]" || cands[1].Locator != "p[2]" {
		t.Fatalf("unexpected locators: %+v", cands)
	}
}

func TestPartitionPlainTextStableAcrossCalls(t *testing.T) {
	text := "Alpha sentence one. Alpha sentence two.\n\nBeta paragraph."
	a := PartitionPlainText(text)
	b := PartitionPlainText(text)
	if len(a) != len(b) {
		t.Fatalf("partition not stable: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("candidate %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestPartitionPlainTextSplitsOversizedParagraph(t *testing.T) {
	sentence := "The RS-25 engine produces high specific impulse. "
	var b strings.Builder
	for b.Len() < maxSnippetBytes*2 {
		b.WriteString(sentence)
	}
	cands := PartitionPlainText(b.String())
	if len(cands) < 2 {
		t.Fatalf("expected oversized paragraph to split into multiple snippets, got %d", len(cands))
	}
	for _, c := range cands {
		if len(c.Text) > maxSnippetBytes {
			t.Fatalf("candidate exceeds budget: %d bytes", len(c.Text))
		}
	}
}

func TestPartitionBlocksPreservesLocatorAndType(t *testing.T) {
	blocks := []Block{
		{Locator: "table[1]/row[2]", Type: model.SnippetTable, Text: "Isp: 452s"},
		{Locator: "figure[1]/caption", Type: model.SnippetFigure, Text: "Engine test fire"},
	}
	cands := PartitionBlocks(blocks)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Locator != "table[1]/row[2]" || cands[0].Type != model.SnippetTable {
		t.Fatalf("unexpected candidate 0: %+v", cands[0])
	}
	if cands[1].Locator != "figure[1]/caption" || cands[1].Type != model.SnippetFigure {
		t.Fatalf("unexpected candidate 1: %+v", cands[1])
	}
}

func TestPartitionBlocksSplitsOversizedBlock(t *testing.T) {
	sentence := "Reading one was nominal. "
	var b strings.Builder
	for b.Len() < maxSnippetBytes*3 {
		b.WriteString(sentence)
	}
	blocks := []Block{{Locator: "section[1]", Type: model.SnippetText, Text: b.String()}}
	cands := PartitionBlocks(blocks)
	if len(cands) < 2 {
		t.Fatalf("expected split, got %d candidates", len(cands))
	}
	if !strings.HasPrefix(cands[0].Locator, "section[1]/seg[") {
		t.Fatalf("unexpected locator: %s", cands[0].Locator)
	}
}

func TestSplitSentencesDoesNotBreakOnDecimal(t *testing.T) {
	sentences := splitSentences("The ratio is 6/10.5 for this engine. Next sentence starts here.")
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(sentences), sentences)
	}
}

func TestPartitionPlainTextSkipsBlankParagraphs(t *testing.T) {
	cands := PartitionPlainText("First.\n\n\n\nSecond.")
	if len(cands) != 2 {
		t.Fatalf("expected blank paragraphs to be skipped, got %d: %+v", len(cands), cands)
	}
}
