package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertMonotonicity(t *testing.T) {
	r := require.New(t)
	s := New(4096)

	r.True(s.Insert("a"))
	r.False(s.Insert("a"))
	r.True(s.Contains("a"))
}

func TestEvictionOnlyAfterCapacity(t *testing.T) {
	r := require.New(t)
	s := New(4)

	for i := 0; i < 4; i++ {
		r.True(s.Insert(fmt.Sprintf("id-%d", i)))
	}
	// All 4 distinct inserts must still be present; capacity not exceeded.
	for i := 0; i < 4; i++ {
		r.True(s.Contains(fmt.Sprintf("id-%d", i)))
	}

	// A 5th distinct insert evicts the least-recently-used entry (id-0).
	r.True(s.Insert("id-4"))
	r.False(s.Contains("id-0"))
	r.True(s.Contains("id-4"))
	r.Equal(4, s.Len())
}

func TestConcurrentInsert(t *testing.T) {
	r := require.New(t)
	s := New(1000)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Insert(fmt.Sprintf("id-%d", i))
		}(i)
	}
	wg.Wait()
	r.Equal(200, s.Len())
}

func TestBroadcastFingerprint(t *testing.T) {
	r := require.New(t)
	fp := BroadcastFingerprint([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, 42)
	r.Equal("0102030405060708:42", fp)
}


