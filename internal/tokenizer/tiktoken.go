package tokenizer

import (
	"errors"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// ErrUnsupportedEncoding is returned for tiktoken encodings without a known
// id range.
var ErrUnsupportedEncoding = errors.New("unsupported tiktoken encoding")

// tiktokenVocab maps an encoding to its id range, special tokens included.
var tiktokenVocab = map[string]int{
	"cl100k_base": 100277,
	"p50k_base":   50281,
	"r50k_base":   50281,
}

// TikToken encodes text with an OpenAI BPE encoding from tiktoken-go.
//
// The padding id is one past the encoding's last id, so VocabSize is the
// encoding's id range plus one.
type TikToken struct {
	enc   *tiktoken.Tiktoken
	name  string
	vocab int
}

// NewTikToken loads the named encoding: cl100k_base, p50k_base or r50k_base.
func NewTikToken(name string) (*TikToken, error) {
	vocab, ok := tiktokenVocab[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedEncoding, name)
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	return &TikToken{enc: enc, name: name, vocab: vocab}, nil
}

// Encode tokenizes text. Special-token text is treated as ordinary text.
func (t *TikToken) Encode(text string) ([]int32, error) {
	raw := t.enc.Encode(text, nil, nil)
	ids := make([]int32, len(raw))
	for i, id := range raw {
		if id < 0 || id >= t.vocab {
			return nil, fmt.Errorf("%s produced id %d outside [0, %d)", t.name, id, t.vocab)
		}
		ids[i] = int32(id) //nolint:gosec // G115: bounded by vocab above.
	}
	return ids, nil
}

// VocabSize returns the id range including the padding id.
func (t *TikToken) VocabSize() int { return t.vocab + 1 }

// PadToken returns the padding id.
func (t *TikToken) PadToken() int32 { return int32(t.vocab) } //nolint:gosec // G115: vocab < 2^31.

// Name returns the encoding name.
func (t *TikToken) Name() string { return t.name }
