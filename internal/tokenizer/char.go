package tokenizer

import (
	"slices"
	"strings"
)

// Reserved ids of the character vocabulary.
const (
	charPad int32 = 0
	charUnk int32 = 1
)

// CharVocab maps each distinct rune of the training corpus to an id.
//
// Ids 0 and 1 are reserved for padding and unknown runes; corpus runes are
// numbered from 2 in sorted order, so the same corpus always yields the same
// vocabulary regardless of row order.
type CharVocab struct {
	ids       map[rune]int32
	lowercase bool
}

// NewCharVocab builds a vocabulary from corpus.
func NewCharVocab(corpus []string, lowercase bool) *CharVocab {
	seen := make(map[rune]struct{})
	for _, text := range corpus {
		if lowercase {
			text = strings.ToLower(text)
		}
		for _, r := range text {
			seen[r] = struct{}{}
		}
	}
	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	slices.Sort(runes)

	ids := make(map[rune]int32, len(runes))
	for i, r := range runes {
		ids[r] = int32(i) + 2 //nolint:gosec // G115: vocabulary size bounded by rune count
	}
	return &CharVocab{ids: ids, lowercase: lowercase}
}

// Encode maps every rune of text to its id; unseen runes map to the
// unknown id.
func (v *CharVocab) Encode(text string) ([]int32, error) {
	if v.lowercase {
		text = strings.ToLower(text)
	}
	out := make([]int32, 0, len(text))
	for _, r := range text {
		id, ok := v.ids[r]
		if !ok {
			id = charUnk
		}
		out = append(out, id)
	}
	return out, nil
}

// VocabSize returns the number of ids including the reserved ones.
func (v *CharVocab) VocabSize() int {
	return len(v.ids) + 2
}

// PadToken returns the padding id.
func (v *CharVocab) PadToken() int32 {
	return charPad
}

// Name returns "char".
func (v *CharVocab) Name() string {
	return CharTokenizerName
}
