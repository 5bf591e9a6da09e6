package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Add(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{5, 4, 3}, r.GetAll(), "GetAll must return newest first")
}

func TestRingGetRecentCaps(t *testing.T) {
	r := NewRing[int](10)
	for i := 1; i <= 5; i++ {
		r.Add(i)
	}
	assert.Equal(t, []int{5, 4}, r.GetRecent(2))
	assert.Equal(t, []int{5, 4, 3, 2, 1}, r.GetRecent(100), "GetRecent beyond len returns everything")
}

func TestRingUpdateMutatesMatchedEntryInPlace(t *testing.T) {
	type rec struct {
		ID     string
		Status string
	}
	r := NewRing[rec](5)
	r.Add(rec{ID: "a", Status: "RUNNING"})
	r.Add(rec{ID: "b", Status: "RUNNING"})

	ok := r.Update(
		func(v rec) bool { return v.ID == "a" },
		func(v rec) rec { v.Status = "COMPLETED"; return v },
	)
	require.True(t, ok)

	found, ok := r.Find(func(v rec) bool { return v.ID == "a" })
	require.True(t, ok)
	assert.Equal(t, "COMPLETED", found.Status)

	missed := r.Update(func(v rec) bool { return v.ID == "missing" }, func(v rec) rec { return v })
	assert.False(t, missed, "Update on an absent id must report false")
}

func TestRingConcurrentAddIsSafe(t *testing.T) {
	r := NewRing[int](100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestRingZeroCapacityClampsToOne(t *testing.T) {
	r := NewRing[int](0)
	r.Add(1)
	r.Add(2)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{2}, r.GetAll())
}
