// Package chunker splits raw document text into bounded-size,
// order-preserving segments for indexing.
//
// Token counting is deliberately simple and fixed: a token is a
// whitespace-delimited word. The same scheme backs the embedding
// providers' input-length checks, so a chunk that fits the budget here
// also fits the model input downstream.
package chunker

import (
	"regexp"
	"strings"
)

// DefaultChunkSize is the default token budget per chunk.
const DefaultChunkSize = 200

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)

// TokenCount returns the number of tokens in text under the fixed scheme.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// Split produces an ordered, non-overlapping sequence of chunk texts
// covering the entire input. Sentences are kept together when they fit
// the budget; a sentence longer than the budget is hard-split on word
// boundaries. Empty or blank text yields zero chunks; text within the
// budget yields exactly one.
//
// Split is a pure function of (text, tokenBudget): concatenating the
// returned chunks in order reconstructs the input up to whitespace
// normalization, with no loss or duplication.
func Split(text string, tokenBudget int) []string {
	if tokenBudget <= 0 {
		tokenBudget = DefaultChunkSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := sentenceRe.FindAllString(text, -1)
	if rest := trailingRemainder(text, sentences); rest != "" {
		sentences = append(sentences, rest)
	}
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			currentTokens = 0
		}
	}

	for _, sentence := range sentences {
		words := strings.Fields(sentence)
		if len(words) == 0 {
			continue
		}
		// Oversized sentence: hard-split on word boundaries.
		if len(words) > tokenBudget {
			flush()
			for start := 0; start < len(words); start += tokenBudget {
				end := start + tokenBudget
				if end > len(words) {
					end = len(words)
				}
				chunks = append(chunks, strings.Join(words[start:end], " "))
			}
			continue
		}
		if currentTokens+len(words) > tokenBudget {
			flush()
		}
		current = append(current, strings.Join(words, " "))
		currentTokens += len(words)
	}
	flush()

	return chunks
}

// trailingRemainder returns whatever follows the last matched sentence,
// so text without a closing terminator is never dropped.
func trailingRemainder(text string, sentences []string) string {
	consumed := 0
	for _, s := range sentences {
		idx := strings.Index(text[consumed:], s)
		if idx < 0 {
			return ""
		}
		consumed += idx + len(s)
	}
	rest := strings.TrimSpace(text[consumed:])
	return rest
}
