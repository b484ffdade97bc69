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

// Package queue implements admission control for the task lifecycle: two
// bounded gates (download and upload) with FIFO queueing. A task awaiting
// admission blocks on the channel returned by Admit; Release wakes the
// longest-waiting task that fits the freed capacity.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

// the gate a task is being admitted through
type Kind int

const (
	Download Kind = iota
	Upload
)

func (k Kind) String() string {
	if k == Download {
		return "download"
	}
	return "upload"
}

// one task blocked on a full gate
type waiter struct {
	id    string
	slots int // reserved for future batch admissions; always 1 today
	wake  chan error
}

// a bounded admission gate with FIFO queueing
type gate struct {
	capacity int // 0 = unbounded
	active   map[string]struct{}
	waiting  []waiter
}

func newGate(capacity int) *gate {
	return &gate{
		capacity: capacity,
		active:   make(map[string]struct{}),
	}
}

// free returns how many slots the gate can still hand out; -1 = unbounded
func (g *gate) free() int {
	if g.capacity == 0 {
		return -1
	}
	return g.capacity - len(g.active)
}

// This type coordinates both gates. When queueAll is set the two gates share
// one logical capacity counter, so a download slot and an upload slot draw
// from the same pool.
type Controller struct {
	mutex    sync.Mutex
	download *gate
	upload   *gate
	queueAll bool
	allLimit int
	stopped  bool
}

// NewController builds a controller with the given per-gate capacities
// (0 = unbounded). If queueAll is true, allLimit bounds the combined number
// of active downloads and uploads and the per-gate capacities are ignored.
func NewController(downloadLimit, uploadLimit int, queueAll bool, allLimit int) *Controller {
	return &Controller{
		download: newGate(downloadLimit),
		upload:   newGate(uploadLimit),
		queueAll: queueAll,
		allLimit: allLimit,
	}
}

// singleton controller, created by Init
var controller_ *Controller

// Init creates the process-wide controller. Called once at boot, after the
// configuration has been read.
func Init(downloadLimit, uploadLimit int, queueAll bool, allLimit int) {
	controller_ = NewController(downloadLimit, uploadLimit, queueAll, allLimit)
}

// Default returns the process-wide controller created by Init.
func Default() *Controller {
	return controller_
}

func (c *Controller) gateFor(kind Kind) *gate {
	if kind == Download {
		return c.download
	}
	return c.upload
}

// combinedActive counts active tasks across both gates (queueAll mode).
func (c *Controller) combinedActive() int {
	return len(c.download.active) + len(c.upload.active)
}

// hasRoom reports whether the gate for kind can admit one more task.
func (c *Controller) hasRoom(kind Kind) bool {
	if c.queueAll {
		return c.allLimit == 0 || c.combinedActive() < c.allLimit
	}
	g := c.gateFor(kind)
	return g.free() != 0
}

// Admit requests a slot on the given gate for the task with the given ID.
// If a slot is free the task joins the active set and Admit returns
// (true, nil). Otherwise the task joins the FIFO waiting list and must block
// on the returned channel: a nil receive means the slot was granted, a
// non-nil receive carries a StoppedError or CanceledWaitError.
func (c *Controller) Admit(id string, kind Kind) (bool, <-chan error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		wake := make(chan error, 1)
		wake <- StoppedError{}
		return false, wake
	}

	g := c.gateFor(kind)
	if _, already := g.active[id]; already {
		return true, nil
	}
	if c.hasRoom(kind) {
		g.active[id] = struct{}{}
		return true, nil
	}

	wake := make(chan error, 1)
	g.waiting = append(g.waiting, waiter{id: id, slots: 1, wake: wake})
	slog.Info(fmt.Sprintf("Task %s: waiting in %s queue (%d ahead)",
		id, kind, len(g.waiting)-1))
	return false, wake
}

// Release frees the slot held by id on the given gate and activates the
// first waiter that fits the freed capacity, in admission order. Releasing
// an ID that is not active is a no-op.
func (c *Controller) Release(id string, kind Kind) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	g := c.gateFor(kind)
	if _, found := g.active[id]; found {
		delete(g.active, id)
	}
	c.wakeNext()
}

// wakeNext scans both gates' waiting lists in admission order and activates
// the first waiters that fit the available capacity. Caller holds the lock.
func (c *Controller) wakeNext() {
	for _, g := range []*gate{c.download, c.upload} {
		for len(g.waiting) > 0 {
			kind := Download
			if g == c.upload {
				kind = Upload
			}
			if !c.hasRoom(kind) {
				break
			}
			next := g.waiting[0]
			g.waiting = g.waiting[1:]
			g.active[next.id] = struct{}{}
			next.wake <- nil
		}
	}
}

// ForceStart promotes the waiting task with the given ID to the active set
// regardless of capacity, on whichever gate it is queued. It reports whether
// the task was found waiting.
func (c *Controller) ForceStart(id string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, g := range []*gate{c.download, c.upload} {
		for i, w := range g.waiting {
			if w.id == id {
				g.waiting = append(g.waiting[:i], g.waiting[i+1:]...)
				g.active[id] = struct{}{}
				w.wake <- nil
				return true
			}
		}
	}
	return false
}

// CancelWait wakes the waiting task with the given ID with a
// CanceledWaitError and removes it from its queue. Canceling a task that is
// not waiting is a no-op.
func (c *Controller) CancelWait(id string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, g := range []*gate{c.download, c.upload} {
		for i, w := range g.waiting {
			if w.id == id {
				g.waiting = append(g.waiting[:i], g.waiting[i+1:]...)
				w.wake <- CanceledWaitError{Id: id}
				return
			}
		}
	}
}

// StopAll makes every subsequent Admit fail with a StoppedError and wakes
// all current waiters with the same error.
func (c *Controller) StopAll() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stopped = true
	for _, g := range []*gate{c.download, c.upload} {
		for _, w := range g.waiting {
			w.wake <- StoppedError{}
		}
		g.waiting = nil
	}
}

// Resume lifts a previous StopAll.
func (c *Controller) Resume() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stopped = false
}

// ActiveCount returns the number of active tasks on the given gate.
func (c *Controller) ActiveCount(kind Kind) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.gateFor(kind).active)
}

// WaitingCount returns the number of queued tasks on the given gate.
func (c *Controller) WaitingCount(kind Kind) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.gateFor(kind).waiting)
}

// IsActive reports whether the task with the given ID holds a slot on the
// given gate.
func (c *Controller) IsActive(id string, kind Kind) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, found := c.gateFor(kind).active[id]
	return found
}
