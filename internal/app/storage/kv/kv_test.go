package kv

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
	Tags  []string
}

func cloneRecord(r record) record {
	r.Tags = append([]string(nil), r.Tags...)
	return r
}

func TestStoreInsertGetOrder(t *testing.T) {
	s := New(cloneRecord)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(fmt.Sprintf("id-%d", i), record{Name: fmt.Sprintf("r%d", i)}))
	}
	assert.ErrorIs(t, s.Insert("id-0", record{}), ErrExists)

	values := s.Values()
	require.Len(t, values, 5)
	for i, v := range values {
		assert.Equal(t, fmt.Sprintf("r%d", i), v.Name)
	}

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 5, s.Len())
}

func TestStoreReturnsClones(t *testing.T) {
	s := New(cloneRecord)
	require.NoError(t, s.Insert("a", record{Tags: []string{"x"}}))

	got, err := s.Get("a")
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Tags[0])
}

func TestStoreUpdateIsAtomic(t *testing.T) {
	s := New[record](nil)
	require.NoError(t, s.Insert("counter", record{}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("counter", func(r *record) error {
				r.Count++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Count)
}

func TestStoreUpdateErrorLeavesEntry(t *testing.T) {
	s := New[record](nil)
	require.NoError(t, s.Insert("a", record{Count: 1}))

	boom := errors.New("boom")
	_, err := s.Update("a", func(r *record) error {
		r.Count = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get("a")
	assert.Equal(t, 1, got.Count)

	_, err = s.Update("missing", func(*record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteAndFilter(t *testing.T) {
	s := New[record](nil)
	require.NoError(t, s.Insert("a", record{Count: 1}))
	require.NoError(t, s.Insert("b", record{Count: 2}))
	require.NoError(t, s.Insert("c", record{Count: 3}))

	require.NoError(t, s.Delete("b"))
	assert.ErrorIs(t, s.Delete("b"), ErrNotFound)
	assert.False(t, s.Has("b"))

	odd := s.Filter(func(r record) bool { return r.Count%2 == 1 })
	require.Len(t, odd, 2)
	assert.Equal(t, 1, odd[0].Count)
	assert.Equal(t, 3, odd[1].Count)
}

func TestIndex(t *testing.T) {
	x := NewIndex()
	x.Add("alice", "c1")
	x.Add("alice", "c2")
	x.Add("bob", "c3")

	assert.Equal(t, []string{"c1", "c2"}, x.Lookup("alice"))
	assert.Equal(t, 1, x.Count("bob"))

	x.Remove("alice", "c1")
	assert.Equal(t, []string{"c2"}, x.Lookup("alice"))
	x.Remove("bob", "c3")
	assert.Empty(t, x.Lookup("bob"))
	assert.Equal(t, 0, x.Count("bob"))
}
