package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describe(_ context.Context, seq int, item string) (string, int, bool, float64, error) {
	return item + "!", seq, len(item)%2 == 0, float64(len(item)), nil
}

func TestMapAndZip4PreservesOrder(t *testing.T) {
	t.Parallel()
	items := []string{"a", "bb", "ccc", "dddd"}
	for _, par := range []int{0, 1, 3, 8} {
		par := par
		t.Run(fmt.Sprintf("parallelism=%d", par), func(t *testing.T) {
			t.Parallel()
			as, bs, cs, ds, err := MapAndZip4(context.Background(), items, describe, Options{Parallelism: par})
			require.NoError(t, err)
			assert.Equal(t, []string{"a!", "bb!", "ccc!", "dddd!"}, as)
			assert.Equal(t, []int{0, 1, 2, 3}, bs)
			assert.Equal(t, []bool{false, true, false, true}, cs)
			assert.Equal(t, []float64{1, 2, 3, 4}, ds)
		})
	}
}

func TestMapAndZip4OutOfOrderCompletion(t *testing.T) {
	t.Parallel()
	items := []int{0, 1, 2, 3, 4, 5}
	var finished atomic.Int32
	order := make([]int32, len(items))
	// earlier items sleep longer, so they finish last
	fn := func(ctx context.Context, seq, item int) (int, int, int, int, error) {
		time.Sleep(time.Duration(len(items)-seq) * 5 * time.Millisecond)
		order[seq] = finished.Add(1)
		return item * 10, item * 20, item * 30, item * 40, nil
	}
	as, bs, cs, ds, err := MapAndZip4(context.Background(), items, fn, Options{Parallelism: len(items)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50}, as)
	assert.Equal(t, []int{0, 20, 40, 60, 80, 100}, bs)
	assert.Equal(t, []int{0, 30, 60, 90, 120, 150}, cs)
	assert.Equal(t, []int{0, 40, 80, 120, 160, 200}, ds)
	assert.Greater(t, order[0], order[len(items)-1], "first item completed after the last")
}

func TestMapAndZip4EmptyList(t *testing.T) {
	t.Parallel()
	as, bs, cs, ds, err := MapAndZip4(context.Background(), []string{}, describe, Options{})
	require.NoError(t, err)
	assert.Empty(t, as)
	assert.Empty(t, bs)
	assert.Empty(t, cs)
	assert.Empty(t, ds)
}

func TestMapAndZip4FailsWholeBatch(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	fn := func(ctx context.Context, seq int, item string) (string, int, bool, float64, error) {
		if seq == 1 {
			return "", 0, false, 0, boom
		}
		return describe(ctx, seq, item)
	}
	for _, par := range []int{0, 4} {
		as, bs, cs, ds, err := MapAndZip4(context.Background(), []string{"a", "b", "c"}, fn, Options{Parallelism: par})
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "item 1")
		assert.Nil(t, as)
		assert.Nil(t, bs)
		assert.Nil(t, cs)
		assert.Nil(t, ds)
	}
}

func TestMapAndZip4SequentialStopsAtFirstError(t *testing.T) {
	t.Parallel()
	var calls int
	fn := func(_ context.Context, seq int, _ string) (string, int, bool, float64, error) {
		calls++
		if seq == 0 {
			return "", 0, false, 0, errors.New("first fails")
		}
		return "", 0, false, 0, nil
	}
	_, _, _, _, err := MapAndZip4(context.Background(), []string{"a", "b"}, fn, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMapAndZip4Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, _, err := MapAndZip4(ctx, []string{"a"}, describe, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	_, _, _, _, err = MapAndZip4(ctx, []string{"a"}, describe, Options{Parallelism: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector(t *testing.T) {
	t.Parallel()
	b := NewBoundary(3)
	c := NewCollector[string](b)

	require.NoError(t, c.Add(b, 2, "z"))
	require.NoError(t, c.Add(b, 0, "x"))
	_, err := c.Close()
	assert.ErrorIs(t, err, ErrIncomplete)

	assert.ErrorIs(t, c.Add(b, 0, "again"), ErrDuplicateItem)
	assert.ErrorIs(t, c.Add(b, 3, "w"), ErrSequenceRange)
	assert.ErrorIs(t, c.Add(b, -1, "w"), ErrSequenceRange)
	assert.ErrorIs(t, c.Add(NewBoundary(3), 1, "y"), ErrForeignItem)

	require.NoError(t, c.Add(b, 1, "y"))
	assert.Equal(t, 3, c.Len())
	got, err := c.Close()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, got)
}

func TestBoundariesAreDistinct(t *testing.T) {
	t.Parallel()
	a, b := NewBoundary(2), NewBoundary(2)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.String(), "[2]")
}
