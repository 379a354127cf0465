package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
)

// Collator turns a list of records into a batch.
type Collator interface {
	Collate(records []Record) (Batch, error)
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	// Workers is the number of goroutines collating batches ahead of the
	// consumer; 0 collates synchronously inside Next.
	Workers int
	Seed    int64
}

// Loader yields the batches of a dataset, epoch by epoch.
//
// Every example is delivered exactly once per epoch. The last batch holds
// the remainder and is never dropped. With Shuffle set the order is a fresh
// permutation each epoch, drawn from a generator seeded with Seed.
//
// Example:
//
//	it := loader.Epoch(ctx)
//	defer it.Close()
//	for {
//	    batch, err := it.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	}
type Loader struct {
	dataset *Dataset
	collate Collator
	opts    LoaderOptions
	rng     *rand.Rand
}

// NewLoader creates a loader over ds.
func NewLoader(ds *Dataset, collate Collator, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("loader: workers must be >= 0, got %d", opts.Workers)
	}
	if ds.Len() == 0 {
		return nil, errors.New("loader: dataset is empty")
	}
	return &Loader{
		dataset: ds,
		collate: collate,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)), //nolint:gosec // G404: shuffling does not need crypto randomness.
	}, nil
}

// Len returns the number of examples per epoch.
func (l *Loader) Len() int {
	return l.dataset.Len()
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.dataset.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Epoch starts a pass over the dataset. The iterator must be closed.
// Epoch is not safe for concurrent use.
func (l *Loader) Epoch(ctx context.Context) *Iterator {
	n := l.dataset.Len()
	var order []int
	if l.opts.Shuffle {
		order = l.rng.Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}

	batches := make([][]Record, 0, l.NumBatches())
	for start := 0; start < n; start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, n)
		records := make([]Record, 0, end-start)
		for _, idx := range order[start:end] {
			records = append(records, l.dataset.At(idx))
		}
		batches = append(batches, records)
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{ctx: ctx, cancel: cancel, batches: batches, collate: l.collate}
	if l.opts.Workers > 0 {
		it.start(l.opts.Workers)
	}
	return it
}

type result struct {
	batch Batch
	err   error
}

// Iterator delivers the batches of one epoch in order.
type Iterator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	batches [][]Record
	collate Collator
	next    int

	results []chan result // one per batch; nil when synchronous
	slots   chan struct{} // bounds the batches collated ahead of Next
	wg      sync.WaitGroup
}

func (it *Iterator) start(workers int) {
	it.results = make([]chan result, len(it.batches))
	for i := range it.results {
		it.results[i] = make(chan result, 1)
	}
	it.slots = make(chan struct{}, 2*workers)
	jobs := make(chan int)

	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		defer close(jobs)
		for i := range it.batches {
			select {
			case it.slots <- struct{}{}:
			case <-it.ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-it.ctx.Done():
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		it.wg.Add(1)
		go func() {
			defer it.wg.Done()
			for i := range jobs {
				batch, err := it.collate.Collate(it.batches[i])
				it.results[i] <- result{batch: batch, err: err}
			}
		}()
	}
}

// Next returns the next batch, or io.EOF once the epoch is exhausted.
func (it *Iterator) Next() (Batch, error) {
	if it.next >= len(it.batches) {
		return Batch{}, io.EOF
	}
	if err := it.ctx.Err(); err != nil {
		return Batch{}, err
	}
	i := it.next
	it.next++
	if it.results == nil {
		return it.collate.Collate(it.batches[i])
	}

	select {
	case r := <-it.results[i]:
		<-it.slots
		return r.batch, r.err
	case <-it.ctx.Done():
		return Batch{}, it.ctx.Err()
	}
}

// Remaining returns the number of batches not yet returned by Next.
func (it *Iterator) Remaining() int {
	return len(it.batches) - it.next
}

// Close stops the collation workers and waits for them to exit.
func (it *Iterator) Close() {
	it.cancel()
	it.wg.Wait()
}
