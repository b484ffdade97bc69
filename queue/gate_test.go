// Copyright (c) 2024 The Fetchd Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// receives from wake with a timeout so a broken gate can't hang the suite
func awaitWake(t *testing.T, wake <-chan error) error {
	t.Helper()
	select {
	case err := <-wake:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gate wake-up")
		return nil
	}
}

// tests that tasks within capacity start immediately
func TestAdmitWithinCapacity(t *testing.T) {
	c := NewController(2, 2, false, 0)
	started, _ := c.Admit("t1", Download)
	assert.True(t, started)
	started, _ = c.Admit("t2", Download)
	assert.True(t, started)
	assert.Equal(t, 2, c.ActiveCount(Download))
}

// tests the FIFO activation guarantee: among tasks admitted while the gate
// is full, activation order equals admission-call order
func TestQueueFairness(t *testing.T) {
	c := NewController(1, 1, false, 0)

	started, _ := c.Admit("T1", Download)
	assert.True(t, started)
	started2, wake2 := c.Admit("T2", Download)
	assert.False(t, started2)
	started3, wake3 := c.Admit("T3", Download)
	assert.False(t, started3)

	// cancel T1: T2 must activate before T3
	c.Release("T1", Download)
	assert.Nil(t, awaitWake(t, wake2))
	assert.True(t, c.IsActive("T2", Download))
	assert.False(t, c.IsActive("T3", Download))

	// on T2 complete, T3 activates
	c.Release("T2", Download)
	assert.Nil(t, awaitWake(t, wake3))
	assert.True(t, c.IsActive("T3", Download))
}

// tests that the active set never exceeds capacity
func TestCapacityNeverExceeded(t *testing.T) {
	c := NewController(2, 0, false, 0)
	wakes := make(map[string]<-chan error)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		started, wake := c.Admit(id, Download)
		if !started {
			wakes[id] = wake
		}
		assert.LessOrEqual(t, c.ActiveCount(Download), 2)
	}
	assert.Len(t, wakes, 3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		c.Release(id, Download)
		assert.LessOrEqual(t, c.ActiveCount(Download), 2)
	}
}

// tests that capacity 0 admits everything immediately
func TestUnboundedGate(t *testing.T) {
	c := NewController(0, 0, false, 0)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		started, _ := c.Admit(id, Download)
		assert.True(t, started)
	}
}

// tests that queueAll draws downloads and uploads from one shared counter
func TestQueueAllSharesCapacity(t *testing.T) {
	c := NewController(0, 0, true, 2)
	started, _ := c.Admit("d1", Download)
	assert.True(t, started)
	started, _ = c.Admit("u1", Upload)
	assert.True(t, started)
	started, _ = c.Admit("d2", Download)
	assert.False(t, started, "third task should queue against the shared limit")

	c.Release("u1", Upload)
	assert.True(t, c.IsActive("d2", Download))
}

// tests Release idempotence: releasing an inactive ID is a no-op
func TestReleaseIdempotent(t *testing.T) {
	c := NewController(1, 1, false, 0)
	c.Admit("t1", Download)
	c.Release("t1", Download)
	c.Release("t1", Download)
	assert.Equal(t, 0, c.ActiveCount(Download))
}

// tests that StopAll fails pending and future admissions with StoppedError
func TestStopAll(t *testing.T) {
	c := NewController(1, 1, false, 0)
	c.Admit("t1", Download)
	_, wake := c.Admit("t2", Download)

	c.StopAll()
	err := awaitWake(t, wake)
	assert.IsType(t, StoppedError{}, err)

	started, wake := c.Admit("t3", Download)
	assert.False(t, started)
	err = awaitWake(t, wake)
	assert.IsType(t, StoppedError{}, err)

	c.Resume()
	started, _ = c.Admit("t4", Upload)
	assert.True(t, started)
}

// tests that a canceled waiter is woken with CanceledWaitError and skipped
func TestCancelWait(t *testing.T) {
	c := NewController(1, 1, false, 0)
	c.Admit("t1", Download)
	_, wake2 := c.Admit("t2", Download)
	_, wake3 := c.Admit("t3", Download)

	c.CancelWait("t2")
	err := awaitWake(t, wake2)
	assert.IsType(t, CanceledWaitError{}, err)

	c.Release("t1", Download)
	assert.Nil(t, awaitWake(t, wake3))
	assert.True(t, c.IsActive("t3", Download))
}

// tests that ForceStart promotes a waiter past the capacity bound
func TestForceStart(t *testing.T) {
	c := NewController(1, 1, false, 0)
	c.Admit("t1", Download)
	_, wake := c.Admit("t2", Download)

	assert.True(t, c.ForceStart("t2"))
	assert.Nil(t, awaitWake(t, wake))
	assert.Equal(t, 2, c.ActiveCount(Download))
	assert.False(t, c.ForceStart("t2"), "an active task cannot be force-started again")
}
