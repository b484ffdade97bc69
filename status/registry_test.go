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

// These tests must be run serially, since the registry is a process-wide
// singleton.

package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// tests that snapshots preserve insertion order
func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	Clear()
	Put("t1", Entry{Name: "first"})
	Put("t2", Entry{Name: "second"})
	Put("t3", Entry{Name: "third"})

	snapshot := Snapshot()
	assert.Len(t, snapshot, 3)
	assert.Equal(t, "t1", snapshot[0].TaskId)
	assert.Equal(t, "t2", snapshot[1].TaskId)
	assert.Equal(t, "t3", snapshot[2].TaskId)
}

// tests that replacing an entry keeps its original position
func TestPutReplacesInPlace(t *testing.T) {
	Clear()
	Put("t1", Entry{Name: "first"})
	Put("t2", Entry{Name: "second"})
	Put("t1", Entry{Name: "first, updated", Phase: PhaseUploading})

	snapshot := Snapshot()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, "t1", snapshot[0].TaskId)
	assert.Equal(t, "first, updated", snapshot[0].Name)
	assert.Equal(t, PhaseUploading, snapshot[0].Phase)
}

// tests Get/Remove behavior, including the finalize race tolerance
func TestGetAndRemove(t *testing.T) {
	Clear()
	Put("t1", Entry{Name: "only"})

	entry, found := Get("t1")
	assert.True(t, found)
	assert.Equal(t, "only", entry.Name)

	Remove("t1")
	_, found = Get("t1")
	assert.False(t, found)

	// removing a missing ID must not panic or alter the registry
	Remove("t1")
	assert.Equal(t, 0, Count())
}

// tests that Update mutates an existing entry atomically
func TestUpdate(t *testing.T) {
	Clear()
	Put("t1", Entry{Name: "fresh", Size: 100})
	Update("t1", func(e Entry) Entry {
		e.ProcessedBytes = 50
		return e
	})
	entry, found := Get("t1")
	assert.True(t, found)
	assert.Equal(t, "fresh", entry.Name)
	assert.InDelta(t, 50.0, entry.Progress(), 0.001)
}

// tests that a late progress update cannot re-insert a removed task
func TestUpdateIgnoresRemovedTask(t *testing.T) {
	Clear()
	Put("t1", Entry{Name: "gone", Size: 100})
	Remove("t1")
	Update("t1", func(e Entry) Entry {
		e.ProcessedBytes = 50
		return e
	})
	_, found := Get("t1")
	assert.False(t, found)
	assert.Equal(t, 0, Count())
	assert.Empty(t, Snapshot())
}

// tests that concurrent writers never corrupt the order index
func TestConcurrentAccess(t *testing.T) {
	Clear()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				Put(id, Entry{ProcessedBytes: int64(j)})
				Snapshot()
			}
			Remove(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, Count())
	assert.Empty(t, Snapshot())
}
