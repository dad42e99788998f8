package relay

import (
	"sync"
	"testing"
)

func TestSessionLocksSerializePerKey(t *testing.T) {
	locks := NewSessionLocks()

	const workers, iterations = 8, 200
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release := locks.Acquire("cli:local")
				counter++
				release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d", counter, workers*iterations)
	}
}

func TestSessionLocksIndependentKeys(t *testing.T) {
	locks := NewSessionLocks()

	releaseA := locks.Acquire("session:a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := locks.Acquire("session:b")
		release()
		close(done)
	}()

	// Holding session:a must not block session:b.
	<-done
}
