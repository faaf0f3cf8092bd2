package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewBadgerBackend(BadgerOptions{DataDir: dir})
	require.NoError(t, err)

	s := openStrings(t, b, "people", Sizing{MaxEntries: 500, AvgValueSize: 32}, Options{})
	require.NoError(t, s.Put(ctx, "alice", "Alice"))
	require.NoError(t, s.Put(ctx, "bob", "Bob"))

	seq, err := b.Sequence("ids")
	require.NoError(t, err)
	first, err := seq.Next()
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// Reopen: catalog, data and sequence state survive.
	b, err = NewBadgerBackend(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer b.Close()

	cat, err := b.Catalog()
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "people", cat[0].Name)
	assert.Equal(t, 500, cat[0].Sizing.MaxEntries)
	assert.Equal(t, 32, cat[0].Sizing.AvgValueSize)

	s = openStrings(t, b, "people", Sizing{MaxEntries: 1}, Options{})
	assert.Equal(t, 2, s.Size(), "entry count is rebuilt on open")
	assert.Equal(t, 500, s.Capacity(), "catalogued sizing wins")

	v, ok, err := s.Get("alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", v)

	seq, err = b.Sequence("ids")
	require.NoError(t, err)
	next, err := seq.Next()
	require.NoError(t, err)
	assert.Greater(t, next, first)
}

func TestBadgerBackend_Drop(t *testing.T) {
	ctx := context.Background()
	b, err := NewBadgerBackendInMemory()
	require.NoError(t, err)
	defer b.Close()

	keep := openStrings(t, b, "keep", Sizing{}, Options{})
	gone := openStrings(t, b, "gone", Sizing{}, Options{})
	require.NoError(t, keep.Put(ctx, "k", "v"))
	require.NoError(t, gone.Put(ctx, "k", "v"))

	require.NoError(t, b.Drop("gone"))

	cat, err := b.Catalog()
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "keep", cat[0].Name)

	fresh := openStrings(t, b, "gone", Sizing{}, Options{})
	assert.Equal(t, 0, fresh.Size())
	_, ok, err := keep.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerBackend_RejectsBadNames(t *testing.T) {
	b, err := NewBadgerBackendInMemory()
	require.NoError(t, err)
	defer b.Close()

	_, _, err = b.Create("", Sizing{})
	assert.Error(t, err)
	_, _, err = b.Create("bad\x00name", Sizing{})
	assert.Error(t, err)
}

func TestBadgerBackend_RequiresDataDir(t *testing.T) {
	_, err := NewBadgerBackend(BadgerOptions{})
	assert.Error(t, err)
}

func TestBadgerBackend_CloseIsIdempotent(t *testing.T) {
	b, err := NewBadgerBackendInMemory()
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Catalog()
	assert.ErrorIs(t, err, ErrBackendClosed)
	_, err = b.RunGC(0.5)
	assert.ErrorIs(t, err, ErrBackendClosed)
}

func TestCodecs(t *testing.T) {
	type record struct {
		IDs []string
	}

	mp := MsgpackCodec[record]{}
	data, err := mp.Encode(record{IDs: []string{"a", "b"}})
	require.NoError(t, err)
	got, err := mp.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.IDs)

	_, err = JSONCodec[int]{}.Decode([]byte("not json"))
	assert.Error(t, err)

	type id string
	raw, _ := StringCodec[id]{}.Encode("node-1")
	back, _ := StringCodec[id]{}.Decode(raw)
	assert.Equal(t, id("node-1"), back)
}
