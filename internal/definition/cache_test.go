package definition

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_Get_LoadsOncePerKeyEvenConcurrently(t *testing.T) {
	var loads int32
	cache := NewCache(func(name, version string) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "not: valid: yaml: [", nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := cache.Get("greet", "1.0.0")
			errs[i] = err
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
	for _, err := range errs {
		assert.Error(t, err)
	}
}

func TestCache_Get_DistinctKeysLoadIndependently(t *testing.T) {
	seen := make(map[string]bool)
	var mu sync.Mutex
	cache := NewCache(func(name, version string) (string, error) {
		mu.Lock()
		seen[key(name, version)] = true
		mu.Unlock()
		return "invalid", nil
	})

	cache.Get("a", "1.0.0")
	cache.Get("b", "1.0.0")

	assert.Len(t, seen, 2)
}
