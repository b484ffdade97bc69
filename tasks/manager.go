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

package tasks

import "sync"

// the table of live listeners, from admission to a terminal state
var live = struct {
	mutex sync.Mutex
	table map[string]*Listener
}{table: make(map[string]*Listener)}

// Track registers a listener in the live table.
func Track(l *Listener) {
	live.mutex.Lock()
	defer live.mutex.Unlock()
	live.table[l.Config.Id] = l
}

// Untrack removes a task from the live table.
func Untrack(id string) {
	live.mutex.Lock()
	defer live.mutex.Unlock()
	delete(live.table, id)
}

// Get fetches the live listener for a task ID.
func Get(id string) (*Listener, error) {
	live.mutex.Lock()
	defer live.mutex.Unlock()
	l, found := live.table[id]
	if !found {
		return nil, NotFoundError{Id: id}
	}
	return l, nil
}

// CancelTask cancels the live task with the given ID.
func CancelTask(id string) error {
	l, err := Get(id)
	if err != nil {
		return err
	}
	l.Cancel()
	return nil
}

// CancelOwned cancels every live task belonging to the given user and
// returns the number of tasks told to stop.
func CancelOwned(ownerId int64) int {
	live.mutex.Lock()
	var owned []*Listener
	for _, l := range live.table {
		if l.Config.OwnerId == ownerId {
			owned = append(owned, l)
		}
	}
	live.mutex.Unlock()
	for _, l := range owned {
		l.Cancel()
	}
	return len(owned)
}

// CancelAll cancels every live task and returns the count.
func CancelAll() int {
	live.mutex.Lock()
	all := make([]*Listener, 0, len(live.table))
	for _, l := range live.table {
		all = append(all, l)
	}
	live.mutex.Unlock()
	for _, l := range all {
		l.Cancel()
	}
	return len(all)
}

// ForceStart promotes a queued task past the gate wait.
func ForceStart(id string) error {
	l, err := Get(id)
	if err != nil {
		return err
	}
	if !l.deps.Queue.ForceStart(id) {
		return NotFoundError{Id: id}
	}
	return nil
}

// Count returns the number of live tasks.
func Count() int {
	live.mutex.Lock()
	defer live.mutex.Unlock()
	return len(live.table)
}

// ClearTable empties the live table. Used by tests.
func ClearTable() {
	live.mutex.Lock()
	defer live.mutex.Unlock()
	live.table = make(map[string]*Listener)
}
