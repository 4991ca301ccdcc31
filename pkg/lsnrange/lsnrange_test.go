package lsnrange_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

func TestLen(t *testing.T) {
	assert.Equal(t, 1, lsnrange.New(0, 0).Len())
	assert.Equal(t, 2, lsnrange.New(0, 1).Len())
	assert.Equal(t, 6, lsnrange.New(5, 10).Len())
	assert.Equal(t, 0, lsnrange.Empty(3).Len())
}

func TestNewPanicsOnInvertedRange(t *testing.T) {
	assert.Panics(t, func() { lsnrange.New(5, 0) })
}

func TestContains(t *testing.T) {
	r := lsnrange.New(5, 10)
	assert.False(t, r.Contains(0))
	assert.True(t, r.Contains(5))
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(11))
	assert.False(t, lsnrange.Empty(5).Contains(5))
}

func TestIntersectsAndOffsets(t *testing.T) {
	r := lsnrange.New(5, 10)

	cases := []struct {
		other        lsnrange.Range
		wantInter    lsnrange.Range
		wantOK       bool
		start, end   int
	}{
		{lsnrange.New(0, 4), lsnrange.Range{}, false, 0, 0},
		{lsnrange.New(0, 5), lsnrange.New(5, 5), true, 0, 1},
		{lsnrange.New(0, 6), lsnrange.New(5, 6), true, 0, 2},
		{lsnrange.New(0, 10), lsnrange.New(5, 10), true, 0, 6},
		{lsnrange.New(0, 11), lsnrange.New(5, 10), true, 0, 6},
		{lsnrange.New(9, 10), lsnrange.New(9, 10), true, 4, 6},
		{lsnrange.New(10, 10), lsnrange.New(10, 10), true, 5, 6},
		{lsnrange.New(11, 11), lsnrange.Range{}, false, 0, 0},
		{lsnrange.New(20, 30), lsnrange.Range{}, false, 0, 0},
	}

	for _, c := range cases {
		inter, ok := r.Intersect(c.other)
		assert.Equal(t, c.wantOK, ok)
		if ok {
			assert.Equal(t, c.wantInter, inter)
		}
		start, end := r.IntersectionOffsets(c.other)
		assert.Equal(t, c.start, start)
		assert.Equal(t, c.end, end)
	}
}

func TestImmediatelyPrecedesFollows(t *testing.T) {
	r := lsnrange.New(5, 10)
	assert.True(t, r.ImmediatelyPrecedes(lsnrange.New(11, 11)))
	assert.True(t, lsnrange.New(11, 11).ImmediatelyFollows(r))
	assert.False(t, r.ImmediatelyPrecedes(lsnrange.New(12, 12)))
}

func TestTrimPrefix(t *testing.T) {
	r := lsnrange.New(5, 10)
	assert.Equal(t, r, r.TrimPrefix(0))
	assert.Equal(t, r, r.TrimPrefix(4))
	assert.Equal(t, lsnrange.New(6, 10), r.TrimPrefix(5))
	assert.Equal(t, lsnrange.New(10, 10), r.TrimPrefix(9))

	trimmed := r.TrimPrefix(10)
	require.True(t, trimmed.IsEmpty())
	assert.Equal(t, lsnrange.Lsn(11), trimmed.Next())

	trimmed = r.TrimPrefix(20)
	require.True(t, trimmed.IsEmpty())
	assert.Equal(t, lsnrange.Lsn(11), trimmed.Next())
}

func TestExtendBy(t *testing.T) {
	r := lsnrange.New(5, 10)
	assert.Equal(t, lsnrange.New(5, 11), r.ExtendBy(1))
	assert.Equal(t, lsnrange.New(5, 12), r.ExtendBy(2))
	assert.Panics(t, func() { r.ExtendBy(0) })

	empty := lsnrange.Empty(5)
	assert.Equal(t, lsnrange.New(5, 5), empty.ExtendBy(1))
	assert.Equal(t, lsnrange.New(5, 6), empty.ExtendBy(2))
}

func TestUnion(t *testing.T) {
	r := lsnrange.New(5, 10)

	cases := []struct {
		other lsnrange.Range
		want  lsnrange.Range
	}{
		{lsnrange.New(0, 4), lsnrange.New(0, 10)},
		{lsnrange.New(4, 4), lsnrange.New(4, 10)},
		{lsnrange.New(5, 5), lsnrange.New(5, 10)},
		{lsnrange.New(7, 10), lsnrange.New(5, 10)},
		{lsnrange.New(10, 11), lsnrange.New(5, 11)},
		{lsnrange.New(11, 15), lsnrange.New(5, 15)},
		{lsnrange.New(0, 100), lsnrange.New(0, 100)},
	}
	for _, c := range cases {
		got, err := r.Union(c.other)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := r.Union(lsnrange.New(0, 0))
	assert.Error(t, err)
	_, err = r.Union(lsnrange.New(0, 3))
	assert.Error(t, err)
	_, err = r.Union(lsnrange.New(12, 12))
	assert.Error(t, err)
	_, err = r.Union(lsnrange.New(15, 20))
	assert.Error(t, err)
}

func TestSatisfy(t *testing.T) {
	r := lsnrange.New(5, 10)

	_, outcome := r.Satisfy(lsnrange.Requested{First: 0, MaxLength: 1})
	assert.Equal(t, lsnrange.SatisfyImpossible, outcome)

	_, outcome = r.Satisfy(lsnrange.Requested{First: 0, MaxLength: 6})
	assert.Equal(t, lsnrange.SatisfyImpossible, outcome)

	got, outcome := r.Satisfy(lsnrange.Requested{First: 5, MaxLength: 1})
	require.Equal(t, lsnrange.SatisfyOK, outcome)
	assert.Equal(t, lsnrange.New(5, 5), got)

	got, outcome = r.Satisfy(lsnrange.Requested{First: 5, MaxLength: 2})
	require.Equal(t, lsnrange.SatisfyOK, outcome)
	assert.Equal(t, lsnrange.New(5, 6), got)

	got, outcome = r.Satisfy(lsnrange.Requested{First: 5, MaxLength: 100})
	require.Equal(t, lsnrange.SatisfyOK, outcome)
	assert.Equal(t, lsnrange.New(5, 10), got)

	got, outcome = r.Satisfy(lsnrange.Requested{First: 10})
	require.Equal(t, lsnrange.SatisfyOK, outcome)
	assert.Equal(t, lsnrange.New(10, 10), got)

	_, outcome = r.Satisfy(lsnrange.Requested{First: 11, MaxLength: 1})
	assert.Equal(t, lsnrange.SatisfyPending, outcome)

	_, outcome = r.Satisfy(lsnrange.Requested{First: 15, MaxLength: 10})
	assert.Equal(t, lsnrange.SatisfyPending, outcome)
}

func TestNextAndEmptyAnchor(t *testing.T) {
	r := lsnrange.New(5, 10)
	assert.Equal(t, lsnrange.Lsn(11), r.Next())

	e := lsnrange.Empty(42)
	assert.Equal(t, lsnrange.Lsn(42), e.Next())
	assert.True(t, e.IsEmpty())
	_, ok := e.First()
	assert.False(t, ok)
}
