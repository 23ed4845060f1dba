// Package batch lifts a single-item function over a list, keeping results
// index-aligned with the input however the items are scheduled.
//
// Every item is invoked with its sequence number. Results are zipped into
// independent Collectors, one per output kind, that share a Boundary
// identifying the originating list. A collector only yields its list once
// every sequence number of the boundary has arrived, so order is a property
// of the sequence numbers and never of completion order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrIncomplete is returned by Close when some items never arrived.
	ErrIncomplete = errors.New("batch: incomplete")
	// ErrForeignItem reports an item tagged with another batch's boundary.
	ErrForeignItem = errors.New("batch: item from another batch")
	// ErrDuplicateItem reports a sequence number delivered twice.
	ErrDuplicateItem = errors.New("batch: duplicate item")
	// ErrSequenceRange reports a sequence number outside [0, Size).
	ErrSequenceRange = errors.New("batch: sequence number out of range")
)

// Boundary marks the items of one originating list.
type Boundary struct {
	ID   uuid.UUID
	Size int
}

// NewBoundary returns a boundary for a list of size items.
func NewBoundary(size int) Boundary {
	return Boundary{ID: uuid.New(), Size: size}
}

// String implements fmt.Stringer.
func (b Boundary) String() string {
	return fmt.Sprintf("%s[%d]", b.ID, b.Size)
}

// Collector gathers one output kind of a batch by sequence number. It is
// not safe for concurrent use.
type Collector[T any] struct {
	boundary Boundary
	items    []T
	filled   []bool
	count    int
}

// NewCollector returns an empty collector for b.
func NewCollector[T any](b Boundary) *Collector[T] {
	return &Collector[T]{
		boundary: b,
		items:    make([]T, b.Size),
		filled:   make([]bool, b.Size),
	}
}

// Add stores v at position seq.
func (c *Collector[T]) Add(b Boundary, seq int, v T) error {
	if b != c.boundary {
		return fmt.Errorf("%w: got %v, collecting %v", ErrForeignItem, b, c.boundary)
	}
	if seq < 0 || seq >= c.boundary.Size {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSequenceRange, seq, c.boundary.Size)
	}
	if c.filled[seq] {
		return fmt.Errorf("%w: %d", ErrDuplicateItem, seq)
	}
	c.items[seq] = v
	c.filled[seq] = true
	c.count++
	return nil
}

// Len returns how many items have arrived.
func (c *Collector[T]) Len() int { return c.count }

// Close returns the ordered list once all items of the boundary have
// arrived.
func (c *Collector[T]) Close() ([]T, error) {
	if c.count != c.boundary.Size {
		return nil, fmt.Errorf("%w: %v has %d of %d items", ErrIncomplete, c.boundary, c.count, c.boundary.Size)
	}
	return c.items, nil
}

// Options controls scheduling.
type Options struct {
	// Parallelism bounds concurrent invocations. Zero or one runs items
	// sequentially in list order.
	Parallelism int
}

// Func computes the four outputs of one item.
type Func[I, A, B, C, D any] func(ctx context.Context, seq int, item I) (A, B, C, D, error)

type zip4[A, B, C, D any] struct {
	mu sync.Mutex
	b  Boundary
	a  *Collector[A]
	bs *Collector[B]
	c  *Collector[C]
	d  *Collector[D]
}

func (z *zip4[A, B, C, D]) add(seq int, a A, b B, c C, d D) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	return errors.Join(
		z.a.Add(z.b, seq, a),
		z.bs.Add(z.b, seq, b),
		z.c.Add(z.b, seq, c),
		z.d.Add(z.b, seq, d),
	)
}

// MapAndZip4 applies fn to every item and returns the four output lists,
// each of length len(items) and index-aligned with items. Any failing item
// fails the whole batch and no lists are returned.
func MapAndZip4[I, A, B, C, D any](ctx context.Context, items []I, fn Func[I, A, B, C, D], opts Options) ([]A, []B, []C, []D, error) {
	b := NewBoundary(len(items))
	z := &zip4[A, B, C, D]{
		b:  b,
		a:  NewCollector[A](b),
		bs: NewCollector[B](b),
		c:  NewCollector[C](b),
		d:  NewCollector[D](b),
	}
	diagf("batch %v: parallelism %d", b, opts.Parallelism)

	run := func(ctx context.Context, seq int) error {
		a, bv, c, d, err := fn(ctx, seq, items[seq])
		if err != nil {
			return fmt.Errorf("batch item %d: %w", seq, err)
		}
		tracef("batch %v: item %d done", b, seq)
		return z.add(seq, a, bv, c, d)
	}

	if opts.Parallelism <= 1 {
		for seq := range items {
			if err := ctx.Err(); err != nil {
				return nil, nil, nil, nil, err
			}
			if err := run(ctx, seq); err != nil {
				opsf("batch %v failed: %v", b, err)
				return nil, nil, nil, nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallelism)
		for seq := range items {
			seq := seq
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return run(gctx, seq)
			})
		}
		if err := g.Wait(); err != nil {
			opsf("batch %v failed: %v", b, err)
			return nil, nil, nil, nil, err
		}
	}

	as, errA := z.a.Close()
	bs, errB := z.bs.Close()
	cs, errC := z.c.Close()
	ds, errD := z.d.Close()
	if err := errors.Join(errA, errB, errC, errD); err != nil {
		return nil, nil, nil, nil, err
	}
	return as, bs, cs, ds, nil
}
