// Package tokenizer turns dataset text into token ids for the sequence
// models.
package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer is the core interface for text tokenization.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int32, error)

	// VocabSize returns the size of the id space produced by Encode,
	// including the padding id. Models size their embedding table with it.
	VocabSize() int

	// PadToken returns the id used to pad sequences to a common length.
	PadToken() int32

	// Name returns the tokenizer name.
	Name() string
}

// CharTokenizerName selects the character vocabulary.
const CharTokenizerName = "char"

// New returns the tokenizer selected by name.
//
// "char" builds a character vocabulary from corpus (the training texts);
// any other name is treated as a tiktoken encoding ("cl100k_base",
// "p50k_base", "r50k_base") and corpus is ignored.
func New(name string, corpus []string, lowercase bool) (Tokenizer, error) {
	switch strings.ToLower(name) {
	case "", CharTokenizerName:
		return NewCharVocab(corpus, lowercase), nil
	default:
		tok, err := NewTikToken(name)
		if err != nil {
			return nil, fmt.Errorf("tokenizer %q: %w", name, err)
		}
		return tok, nil
	}
}
