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

// tasks downloading into one shared folder. Exactly one member, the
// owner, runs the pipeline and the upload over the combined tree; the
// others wait and finalize quietly once the owner is done. The last
// member to land a successful download becomes the owner; if the last
// member fails instead, the longest-waiting survivor claims ownership.
type sameDirGroup struct {
	key   string
	total int

	mutex    sync.Mutex
	joined   int
	finished int
	failures int
	claimed  bool
	// working directories of the members whose downloads landed
	dirs []string
	// closed when every member has reached a terminal download state
	resolved chan struct{}
	// closed when the owner has finished (or no owner exists)
	done     chan struct{}
	doneOnce sync.Once
}

// MemberDone records one member reaching a terminal download state and
// reports whether the caller owns the shared pipeline. A successful last
// member claims ownership; otherwise the waiting survivors race for it
// through ClaimOwner after resolved closes.
func (g *sameDirGroup) MemberDone(dir string, failed bool) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.finished++
	if failed {
		g.failures++
	} else {
		g.dirs = append(g.dirs, dir)
	}
	if g.finished < g.total {
		return false
	}
	owns := false
	if !failed && !g.claimed {
		g.claimed = true
		owns = true
	}
	close(g.resolved)
	if g.failures == g.total {
		// nobody survived; unblock any bookkeeping waiters
		g.doneOnce.Do(func() { close(g.done) })
	}
	return owns
}

// ClaimOwner is called by survivors woken from Resolved when the last
// finisher failed; exactly one caller wins.
func (g *sameDirGroup) ClaimOwner() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.claimed {
		return false
	}
	g.claimed = true
	return true
}

// Finish marks the shared pipeline and upload as complete, waking the
// non-owner members so they can finalize.
func (g *sameDirGroup) Finish() {
	g.doneOnce.Do(func() { close(g.done) })
}

// SiblingDirs returns the working directories of the other members whose
// downloads landed; the owner folds their payloads into its own tree.
func (g *sameDirGroup) SiblingDirs(own string) []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	var siblings []string
	for _, dir := range g.dirs {
		if dir != own {
			siblings = append(siblings, dir)
		}
	}
	return siblings
}

// Resolved closes once every member has reached a terminal download
// state.
func (g *sameDirGroup) Resolved() <-chan struct{} {
	return g.resolved
}

// Done closes once the owner has finished the shared pipeline and
// upload.
func (g *sameDirGroup) Done() <-chan struct{} {
	return g.done
}

var groups = struct {
	mutex sync.Mutex
	table map[string]*sameDirGroup
}{table: make(map[string]*sameDirGroup)}

// JoinGroup adds a task to the group for the given folder key, creating
// the group with the declared member count on first join. The group
// leaves the table once every declared member has joined.
func JoinGroup(key string, total int) *sameDirGroup {
	groups.mutex.Lock()
	defer groups.mutex.Unlock()
	group, found := groups.table[key]
	if !found {
		group = &sameDirGroup{
			key:      key,
			total:    total,
			resolved: make(chan struct{}),
			done:     make(chan struct{}),
		}
		groups.table[key] = group
	}
	group.joined++
	if group.joined >= group.total {
		delete(groups.table, key)
	}
	return group
}

// ClearGroups empties the group table. Used by tests.
func ClearGroups() {
	groups.mutex.Lock()
	defer groups.mutex.Unlock()
	groups.table = make(map[string]*sameDirGroup)
}
