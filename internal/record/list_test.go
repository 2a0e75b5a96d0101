package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/schema"
)

func listOf(t *testing.T, f *Factory, numbers ...string) (*List, []*Record) {
	t.Helper()
	l := NewList()
	var recs []*Record
	for _, n := range numbers {
		r := newNumber(t, f, n)
		require.NoError(t, l.Add(r))
		recs = append(recs, r)
	}
	return l, recs
}

func TestList_Homogeneous(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, _ := listOf(t, f, "1", "2")

	err := l.Add(newContact(t, f))
	assert.True(t, errs.Is(err, errs.TypeMismatch))
	err = l.Prepend(newContact(t, f))
	assert.True(t, errs.Is(err, errs.TypeMismatch))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, schema.ViewNumber, l.View().Name)
}

func TestList_FirstAddSetsCursor(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l := NewList()

	_, err := l.Current()
	assert.True(t, errs.Is(err, errs.NoData))

	r := newNumber(t, f, "1")
	require.NoError(t, l.Add(r))
	cur, err := l.Current()
	require.NoError(t, err)
	assert.Same(t, r, cur)
}

func TestList_CursorStopsAtEnds(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, recs := listOf(t, f, "1", "2", "3")

	cur, err := l.Next()
	require.NoError(t, err)
	assert.Same(t, recs[1], cur)

	cur, err = l.Last()
	require.NoError(t, err)
	assert.Same(t, recs[2], cur)

	_, err = l.Next()
	assert.True(t, errs.Is(err, errs.NoData))
	cur, _ = l.Current()
	assert.Same(t, recs[2], cur, "cursor unchanged after NoData")

	cur, err = l.First()
	require.NoError(t, err)
	assert.Same(t, recs[0], cur)

	_, err = l.Prev()
	assert.True(t, errs.Is(err, errs.NoData))
	cur, _ = l.Current()
	assert.Same(t, recs[0], cur)
}

func TestList_EmptyNavigation(t *testing.T) {
	l := NewList()
	for name, move := range map[string]func() (*Record, error){
		"first": l.First, "last": l.Last, "next": l.Next, "prev": l.Prev,
	} {
		_, err := move()
		assert.True(t, errs.Is(err, errs.NoData), name)
	}
}

func TestList_RemoveKeepsTombstoneClone(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, recs := listOf(t, f, "1", "2", "3")

	require.NoError(t, l.Remove(recs[1], true))
	require.NoError(t, l.Remove(recs[0], false))
	assert.Equal(t, 1, l.Len())

	deleted := l.Deleted()
	require.Len(t, deleted, 1)
	assert.NotSame(t, recs[1], deleted[0])
	assert.True(t, deleted[0].Deleted())

	// Later edits of the live record do not reach the snapshot.
	require.NoError(t, recs[1].SetString(schema.NumberNumber, "changed"))
	num, _ := deleted[0].String(schema.NumberNumber)
	assert.Equal(t, "2", num)

	err := l.Remove(recs[1], true)
	assert.True(t, errs.Is(err, errs.NotFound))
	assert.Len(t, l.Deleted(), 1)
}

func TestList_RemoveAdjustsCursor(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, recs := listOf(t, f, "1", "2", "3")

	_, err := l.Last()
	require.NoError(t, err)
	require.NoError(t, l.Remove(recs[0], false))
	cur, _ := l.Current()
	assert.Same(t, recs[2], cur)

	require.NoError(t, l.Remove(recs[2], false))
	cur, _ = l.Current()
	assert.Same(t, recs[1], cur)

	require.NoError(t, l.Remove(recs[1], false))
	_, err = l.Current()
	assert.True(t, errs.Is(err, errs.NoData))
}

func TestList_PrependAndReverse(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, recs := listOf(t, f, "2", "3")
	front := newNumber(t, f, "1")
	require.NoError(t, l.Prepend(front))

	cur, _ := l.Current()
	assert.Same(t, recs[0], cur, "prepend keeps the cursor on its record")

	l.Reverse()
	got := l.Records()
	assert.Equal(t, []*Record{recs[1], recs[0], front}, got)
	cur, _ = l.Current()
	assert.Same(t, recs[0], cur)
}

func TestList_DestroyCascade(t *testing.T) {
	f := NewFactory(schema.Builtin())
	l, recs := listOf(t, f, "1", "2")
	require.NoError(t, l.Remove(recs[0], true))

	l.Destroy(true)
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Deleted())
	assert.False(t, recs[1].Has(schema.NumberNumber))
}
