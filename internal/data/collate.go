package data

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/seqtune/internal/config"
	"github.com/born-ml/seqtune/internal/tensor"
	"github.com/born-ml/seqtune/internal/tokenizer"
)

// Batch is one collated batch.
type Batch struct {
	Labels *tensor.RawTensor // int32 [B]
	Tokens *tensor.RawTensor // int32 [B, T]
}

// To moves both tensors of the batch to device.
func (b Batch) To(device tensor.Device) (Batch, error) {
	labels, err := b.Labels.To(device)
	if err != nil {
		return Batch{}, fmt.Errorf("labels: %w", err)
	}
	tokens, err := b.Tokens.To(device)
	if err != nil {
		return Batch{}, fmt.Errorf("tokens: %w", err)
	}
	return Batch{Labels: labels, Tokens: tokens}, nil
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	if b.Labels == nil {
		return 0
	}
	return b.Labels.NumElements()
}

// Preprocessor turns raw records into batches: the label column is parsed
// as a class index, the text column is tokenised, truncated to MaxSeqLen
// and left-padded with the pad token to the longest row of the batch.
type Preprocessor struct {
	Tokenizer   tokenizer.Tokenizer
	MaxSeqLen   int
	NClasses    int
	LabelColumn int
	TextColumn  int
}

// NewPreprocessor creates a Preprocessor from configuration.
func NewPreprocessor(tok tokenizer.Tokenizer, ds config.Datasets, pre config.Preprocessing, nClasses int) *Preprocessor {
	return &Preprocessor{
		Tokenizer:   tok,
		MaxSeqLen:   pre.MaxSeqLen,
		NClasses:    nClasses,
		LabelColumn: ds.LabelColumn,
		TextColumn:  ds.TextColumn,
	}
}

// Collate builds a batch from records. Any malformed record fails the whole
// batch with a *RowError.
func (p *Preprocessor) Collate(records []Record) (Batch, error) {
	if len(records) == 0 {
		return Batch{}, fmt.Errorf("collate: empty batch")
	}
	labels := make([]int32, len(records))
	seqs := make([][]int32, len(records))
	longest := 0
	for i, rec := range records {
		label, ids, err := p.example(rec)
		if err != nil {
			return Batch{}, err
		}
		labels[i] = label
		seqs[i] = ids
		longest = max(longest, len(ids))
	}

	pad := p.Tokenizer.PadToken()
	tokens := make([]int32, len(records)*longest)
	for i, ids := range seqs {
		row := tokens[i*longest : (i+1)*longest]
		offset := longest - len(ids)
		for j := 0; j < offset; j++ {
			row[j] = pad
		}
		copy(row[offset:], ids)
	}

	labelT, err := tensor.FromInt32(labels, tensor.Shape{len(records)})
	if err != nil {
		return Batch{}, err
	}
	tokenT, err := tensor.FromInt32(tokens, tensor.Shape{len(records), longest})
	if err != nil {
		return Batch{}, err
	}
	return Batch{Labels: labelT, Tokens: tokenT}, nil
}

func (p *Preprocessor) example(rec Record) (int32, []int32, error) {
	fail := func(format string, args ...any) (int32, []int32, error) {
		return 0, nil, &RowError{File: rec.File, Line: rec.Line, Reason: fmt.Sprintf(format, args...)}
	}
	if p.LabelColumn >= len(rec.Fields) || p.TextColumn >= len(rec.Fields) {
		return fail("expected at least %d columns, got %d", max(p.LabelColumn, p.TextColumn)+1, len(rec.Fields))
	}
	label, err := strconv.Atoi(strings.TrimSpace(rec.Fields[p.LabelColumn]))
	if err != nil {
		return fail("invalid label %q", rec.Fields[p.LabelColumn])
	}
	if label < 0 || label >= p.NClasses {
		return fail("label %d out of range [0, %d)", label, p.NClasses)
	}
	ids, err := p.Tokenizer.Encode(rec.Fields[p.TextColumn])
	if err != nil {
		return fail("tokenize: %v", err)
	}
	if len(ids) == 0 {
		return fail("empty text")
	}
	if len(ids) > p.MaxSeqLen {
		ids = ids[:p.MaxSeqLen]
	}
	return int32(label), ids, nil //nolint:gosec // G115: label < n_classes.
}
