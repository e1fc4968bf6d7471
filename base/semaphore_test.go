package base

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestByteSemaphoreBasicAcquireRelease(t *testing.T) {
	s := NewByteSemaphore(100)

	require.True(t, s.Acquire(60, 10*time.Millisecond))
	require.EqualValues(t, 60, s.Used())

	require.False(t, s.Acquire(60, 5*time.Millisecond))

	s.Release(60)
	require.EqualValues(t, 0, s.Used())

	require.True(t, s.Acquire(100, 10*time.Millisecond))
}

func TestByteSemaphoreBlocksUntilReleased(t *testing.T) {
	s := NewByteSemaphore(10)
	require.True(t, s.Acquire(10, time.Second))

	done := make(chan bool, 1)
	go func() {
		done <- s.Acquire(10, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Release(10)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake up after Release")
	}
}

func TestByteSemaphoreOversizedAcquisitionAdmittedWhenDrained(t *testing.T) {
	// A single document larger than the whole budget must still be
	// admitted once nothing else is outstanding, never dropped.
	s := NewByteSemaphore(10)
	require.True(t, s.Acquire(50, time.Second))
	require.EqualValues(t, 50, s.Used())

	require.False(t, s.Acquire(1, 5*time.Millisecond))

	s.Release(50)
	require.True(t, s.Acquire(1, time.Second))
}

func TestByteSemaphoreReleaseNeverGoesNegative(t *testing.T) {
	s := NewByteSemaphore(10)
	s.Release(5)
	require.EqualValues(t, 0, s.Used())
}

func TestByteSemaphoreSetLimitWakesWaiters(t *testing.T) {
	s := NewByteSemaphore(10)
	require.True(t, s.Acquire(10, time.Second))

	done := make(chan bool, 1)
	go func() {
		done <- s.Acquire(5, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	s.SetLimit(15)

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake up after SetLimit raised the budget")
	}
	require.EqualValues(t, 15, s.Used())
}
