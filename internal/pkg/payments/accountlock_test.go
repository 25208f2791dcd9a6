package payments

import (
	"sync"
	"testing"
	"time"
)

func TestAccountLocksSerializeSameAccount(t *testing.T) {
	locks := newAccountLocks()

	var value int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("acc_1")
			defer unlock()
			value++
		}()
	}
	wg.Wait()

	if value != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", value)
	}
}

func TestAccountLocksIndependentAccounts(t *testing.T) {
	locks := newAccountLocks()

	unlockA := locks.Lock("acc_a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("acc_b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock for a different account blocked")
	}
}
