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

// Package status holds the process-wide registry mapping live task IDs to
// their current status entries. Backends and pipeline stages write entries;
// the status message renderer reads them through Snapshot.
package status

import (
	"sync"
	"time"
)

// the processing phase a task is currently in
type Phase int

const (
	PhaseQueuedDownload Phase = iota
	PhaseDownloading
	PhaseQueuedUpload
	PhaseUploading
	PhaseProcessing
	PhaseSeeding
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseQueuedDownload:
		return "Queued Download"
	case PhaseDownloading:
		return "Downloading"
	case PhaseQueuedUpload:
		return "Queued Upload"
	case PhaseUploading:
		return "Uploading"
	case PhaseProcessing:
		return "Processing"
	case PhaseSeeding:
		return "Seeding"
	case PhasePaused:
		return "Paused"
	}
	return "Unknown"
}

// A snapshot of one task's progress. Entries are immutable: updates replace
// the whole entry, so readers never observe a half-written one.
type Entry struct {
	TaskId         string
	ChatId         int64
	Phase          Phase
	Driver         string // name of the backend driver or pipeline tool
	Name           string
	Size           int64
	ProcessedBytes int64
	Speed          int64 // bytes per second
	Eta            time.Duration
	StartedAt      time.Time
}

// Progress returns the completed fraction of the task in percent.
func (e Entry) Progress() float64 {
	if e.Size <= 0 {
		return 0
	}
	return 100 * float64(e.ProcessedBytes) / float64(e.Size)
}

// this type maps task IDs to entries, preserving insertion order for
// snapshots
type registry struct {
	mutex   sync.Mutex
	entries map[string]Entry
	order   []string
}

// singleton registry instance
var registry_ = &registry{entries: make(map[string]Entry)}

// Put inserts or replaces the entry for the given task ID.
func Put(id string, entry Entry) {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	if _, found := registry_.entries[id]; !found {
		registry_.order = append(registry_.order, id)
	}
	entry.TaskId = id
	registry_.entries[id] = entry
}

// Get fetches the entry for the given task ID, reporting whether it exists.
func Get(id string) (Entry, bool) {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	entry, found := registry_.entries[id]
	return entry, found
}

// Update applies fn to the current entry for id and stores the result. An
// absent id is a no-op: a late progress callback must not re-insert a task
// that already finalized. The registry lock is held across fn, so fn must
// not block.
func Update(id string, fn func(Entry) Entry) {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	entry, found := registry_.entries[id]
	if !found {
		return
	}
	entry = fn(entry)
	entry.TaskId = id
	registry_.entries[id] = entry
}

// Remove deletes the entry for the given task ID. Removing an absent ID is a
// no-op, since finalization races with the status renderer.
func Remove(id string) {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	if _, found := registry_.entries[id]; !found {
		return
	}
	delete(registry_.entries, id)
	for i, ordered := range registry_.order {
		if ordered == id {
			registry_.order = append(registry_.order[:i], registry_.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns all live entries in insertion order.
func Snapshot() []Entry {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	entries := make([]Entry, 0, len(registry_.order))
	for _, id := range registry_.order {
		entries = append(entries, registry_.entries[id])
	}
	return entries
}

// Count returns the number of live entries.
func Count() int {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	return len(registry_.entries)
}

// Clear empties the registry. Used by tests and on shutdown.
func Clear() {
	registry_.mutex.Lock()
	defer registry_.mutex.Unlock()
	registry_.entries = make(map[string]Entry)
	registry_.order = nil
}
