package set

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func reading(s *ThreadSafeSet, wg *sync.WaitGroup) {
	defer wg.Done()

	for toCheck := 0; toCheck < 10; {
		if s.Contains(toCheck) {
			toCheck++
		}
		time.Sleep(time.Millisecond * 5)
	}
}

func writing(s *ThreadSafeSet, wg *sync.WaitGroup) {
	defer wg.Done()

	for toAdd := 0; toAdd < 3; toAdd++ {
		s.Add(toAdd)
		time.Sleep(time.Millisecond * 2)
	}

	s.Clear()

	for toAdd := 0; toAdd < 7; toAdd++ {
		s.Add(toAdd)
		time.Sleep(time.Millisecond * 3)
	}

	s.Remove(0, 3, 4, 7)

	for toAdd := 0; toAdd < 10; toAdd++ {
		s.Add(toAdd)
		time.Sleep(time.Millisecond * 4)
	}
}

// should not face any deadlocks
func TestSetConcurrentReadersAndWriters(t *testing.T) {
	s := NewThreadSafeSet()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go reading(s, &wg)
		go writing(s, &wg)
	}
	wg.Wait()
}

func TestSetSizeAndValues(t *testing.T) {
	s := NewThreadSafeSet("x-request-id", "x-caller-id")
	assert.Equal(t, 2, s.Size())
	assert.ElementsMatch(t, []interface{}{"x-request-id", "x-caller-id"}, s.Values())

	s.Add("x-tenant")
	assert.True(t, s.Contains("x-tenant"))
	assert.Equal(t, 3, s.Size())

	s.Remove("x-caller-id")
	assert.False(t, s.Contains("x-caller-id"))

	s.Clear()
	assert.Equal(t, 0, s.Size())
}
