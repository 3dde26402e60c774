package syncx

import (
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	m := NewMutex()
	if !m.Lock(time.Second) {
		t.Fatal("fresh mutex not acquirable")
	}
	m.Unlock()
	if !m.Lock(time.Second) {
		t.Fatal("released mutex not acquirable")
	}
	m.Unlock()
}

func TestLockTimesOutWhenHeld(t *testing.T) {
	m := NewMutex()
	if !m.Lock(time.Second) {
		t.Fatal("fresh mutex not acquirable")
	}
	if m.Lock(10 * time.Millisecond) {
		t.Fatal("held mutex acquired twice")
	}
	m.Unlock()
}

func TestLockHandsOffToWaiter(t *testing.T) {
	m := NewMutex()
	if !m.Lock(time.Second) {
		t.Fatal("fresh mutex not acquirable")
	}

	acquired := make(chan bool, 1)
	go func() {
		acquired <- m.Lock(time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	m.Unlock()

	select {
	case ok := <-acquired:
		if !ok {
			t.Fatal("waiter timed out despite release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestUnlockOfUnlockedMutexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewMutex().Unlock()
}
