package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetBasics(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.False(t, s.Contains("a"))
}

func TestSetDrain(t *testing.T) {
	s := NewSet()
	s.Add("a")
	s.Add("b")
	drained := s.Drain()
	assert.ElementsMatch(t, []string{"a", "b"}, drained)
	assert.Zero(t, s.Len())
}

func TestSetConcurrent(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			s.Add(id)
			s.Contains(id)
			s.Remove(id)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}
