// Package budget keeps retrieved context inside the model's input window.
// Sizes are measured in runes, not bytes: the corpus is Persian and a byte
// budget would cut multi-byte text mid-character.
package budget

import (
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

const (
	// charsPerToken is the rough chars-to-tokens ratio used for estimates.
	charsPerToken = 4

	// minBlockChars is the floor below which a context block is never
	// trimmed: shorter blocks lose their meaning entirely.
	minBlockChars = 200

	// ellipsis joins the head and tail of a trimmed block.
	ellipsis = "\n...\n"
)

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	return len([]rune(text)) / charsPerToken
}

// TrimContexts caps the retrieved documents at maxBlocks entries and
// maxChars total characters. When the combined size overshoots the budget,
// each block is shortened from the middle (keeping head and tail) to its
// share of the budget, len * maxChars / total, floored at minBlockChars.
// Blocks at or under the floor pass through untouched, so the result may
// still exceed maxChars when the floor dominates.
func TrimContexts(docs []rag.Document, maxBlocks, maxChars int) []rag.Document {
	if maxBlocks > 0 && len(docs) > maxBlocks {
		docs = docs[:maxBlocks]
	}
	if maxChars <= 0 {
		return docs
	}

	texts := make([][]rune, len(docs))
	total := 0
	for i, d := range docs {
		texts[i] = []rune(blockText(d))
		total += len(texts[i])
	}
	if total <= maxChars {
		return docs
	}

	trimmed := make([]rag.Document, len(docs))
	copy(trimmed, docs)
	for i, t := range texts {
		target := len(t) * maxChars / total
		if target < minBlockChars {
			target = minBlockChars
		}
		if target >= len(t) {
			continue
		}
		short := shorten(t, target)
		if docs[i].FullText != "" {
			trimmed[i].FullText = short
		} else {
			trimmed[i].Text = short
		}
	}
	return trimmed
}

// blockText picks the text a document contributes to the prompt: the full
// chunk text when present, the indexed summary otherwise.
func blockText(d rag.Document) string {
	if d.FullText != "" {
		return d.FullText
	}
	return d.Text
}

// shorten cuts a rune slice to roughly target runes by keeping its head
// and tail around an ellipsis marker.
func shorten(text []rune, target int) string {
	if len(text) <= target {
		return string(text)
	}
	marker := []rune(ellipsis)
	keep := target - len(marker)
	if keep < minBlockChars {
		keep = minBlockChars
	}
	head := keep / 2
	tail := keep - head
	return string(text[:head]) + ellipsis + string(text[len(text)-tail:])
}
