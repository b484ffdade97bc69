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

package merge

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// inputs a session accepts before it commits itself
	MaxInputs = 20
	// estimated cumulative payload cap per session
	MaxTotalSize = int64(8) << 30
)

var rangeRe = regexp.MustCompile(`^(.*)/(\d+)-(\d+)$`)

// one pending merge input: either a chat message carrying media or a
// direct link, with a size estimate where one is known
type Input struct {
	MessageId int64
	URL       string
	Name      string
	Size      int64
}

// the dedupe identity of an input
func (input Input) key() string {
	if input.MessageId != 0 {
		return "msg:" + strconv.FormatInt(input.MessageId, 10)
	}
	return "url:" + normalizeURL(input.URL)
}

func normalizeURL(url string) string {
	url = strings.TrimSpace(strings.ToLower(url))
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return strings.TrimSuffix(url, "/")
}

// a user-scoped accumulator of merge inputs awaiting commit
type session struct {
	owner     int64
	inputs    []Input
	seen      map[string]bool
	total     int64
	updatedAt time.Time
}

// this type tracks at most one open session per owner
type Table struct {
	mutex    sync.Mutex
	sessions map[int64]*session
}

func NewTable() *Table {
	return &Table{sessions: make(map[int64]*session)}
}

// opens a session for owner; reports false (plus the current input
// count) when one is already open
func (t *Table) Start(owner int64) (opened bool, pending int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if existing, found := t.sessions[owner]; found {
		return false, len(existing.inputs)
	}
	t.sessions[owner] = &session{
		owner:     owner,
		seen:      make(map[string]bool),
		updatedAt: time.Now(),
	}
	return true, 0
}

// appends one input to owner's open session; reports whether the
// session auto-committed by hitting the input limit
func (t *Table) Add(owner int64, input Input) (committed bool, pending int, err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	current, found := t.sessions[owner]
	if !found {
		return false, 0, NoSessionError{Owner: owner}
	}
	if err := current.add(input); err != nil {
		return false, len(current.inputs), err
	}
	return len(current.inputs) >= MaxInputs, len(current.inputs), nil
}

func (s *session) add(input Input) error {
	if len(s.inputs) >= MaxInputs {
		return SessionFullError{Limit: MaxInputs}
	}
	if s.total+input.Size > MaxTotalSize {
		return SizeLimitError{Limit: MaxTotalSize}
	}
	key := input.key()
	if s.seen[key] {
		name := input.URL
		if name == "" {
			name = "Message " + strconv.FormatInt(input.MessageId, 10)
		}
		return DuplicateInputError{Input: name}
	}
	s.seen[key] = true
	s.inputs = append(s.inputs, input)
	s.total += input.Size
	s.updatedAt = time.Now()
	return nil
}

// expands a "base/a-b" message-id range spec into individual message
// inputs, capped at what the session can still hold
func ExpandRange(spec string) ([]Input, error) {
	match := rangeRe.FindStringSubmatch(strings.TrimSpace(spec))
	if match == nil {
		return nil, BadRangeError{Spec: spec}
	}
	first, _ := strconv.ParseInt(match[2], 10, 64)
	last, _ := strconv.ParseInt(match[3], 10, 64)
	if first > last {
		return nil, BadRangeError{Spec: spec}
	}
	if last-first+1 > MaxInputs {
		last = first + MaxInputs - 1
	}
	inputs := make([]Input, 0, last-first+1)
	for id := first; id <= last; id++ {
		inputs = append(inputs, Input{MessageId: id})
	}
	return inputs, nil
}

// closes owner's session and hands its inputs to the caller; the
// session is removed before the merge task is created so a new one can
// open immediately
func (t *Table) Commit(owner int64) ([]Input, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	current, found := t.sessions[owner]
	if !found {
		return nil, NoSessionError{Owner: owner}
	}
	if len(current.inputs) < 2 {
		return nil, NotEnoughInputsError{Count: len(current.inputs)}
	}
	delete(t.sessions, owner)
	return current.inputs, nil
}

// discards owner's open session and its pending inputs
func (t *Table) Cancel(owner int64) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, found := t.sessions[owner]; !found {
		return NoSessionError{Owner: owner}
	}
	delete(t.sessions, owner)
	return nil
}

// reports the pending input count for owner, or false with no session
func (t *Table) Pending(owner int64) (int, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	current, found := t.sessions[owner]
	if !found {
		return 0, false
	}
	return len(current.inputs), true
}

// the process-wide session table

var defaultTable = NewTable()

func Default() *Table {
	return defaultTable
}
