package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircular_WriteAndLatest(t *testing.T) {
	b := NewCircular[int](3)

	assert.Empty(t, b.Latest(5))

	b.Write(1)
	b.Write(2)
	assert.Equal(t, []int{1, 2}, b.Latest(0))
	assert.Equal(t, []int{2}, b.Latest(1))
	assert.Equal(t, 2, b.Len())
}

func TestCircular_DropOldest(t *testing.T) {
	var dropped []int
	b := NewCircular[int](3, WithDropCallback(func(v int) { dropped = append(dropped, v) }))

	for i := 1; i <= 5; i++ {
		b.Write(i)
	}

	assert.Equal(t, []int{3, 4, 5}, b.Latest(0))
	assert.Equal(t, []int{4, 5}, b.Latest(2))
	assert.Equal(t, []int{1, 2}, dropped)

	stats := b.Stats()
	assert.Equal(t, int64(5), stats.Writes)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 3, stats.Capacity)
}

func TestCircular_ClearAndMinimumCapacity(t *testing.T) {
	b := NewCircular[string](0)
	assert.Equal(t, 1, b.Capacity())

	b.Write("a")
	b.Write("b")
	assert.Equal(t, []string{"b"}, b.Latest(0))

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Latest(0))
	assert.Equal(t, int64(2), b.Stats().Writes)
}

func TestCircular_ConcurrentWrites(t *testing.T) {
	b := NewCircular[int](50)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Write(i)
				_ = b.Latest(5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, b.Len())
	assert.Equal(t, int64(1000), b.Stats().Writes)
	assert.Equal(t, int64(950), b.Stats().Dropped)
}
