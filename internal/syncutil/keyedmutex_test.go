package syncutil

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var m KeyedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("0xabc")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestKeyedMutexUnlockReleases(t *testing.T) {
	var m KeyedMutex

	unlock := m.Lock("0xaaa")
	unlock()

	// Reacquiring the same key must not block after unlock.
	unlock = m.Lock("0xaaa")
	unlock()
}
