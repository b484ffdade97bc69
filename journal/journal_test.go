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

package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fetchd/fetchd/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchd.db")
	assert.Nil(t, store.Open(path, ""))
	t.Cleanup(func() { store.Close() })
}

// tests the add/remove cycle around a task's lifetime
func TestAddAndRemove(t *testing.T) {
	openTestStore(t)

	record := Record{ChatId: 42, Link: "https://chat.test/c/42/100", Tag: "@user"}
	assert.Nil(t, Add(record))

	records, err := All()
	assert.Nil(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].ChatId)
	assert.False(t, records[0].StartedAt.IsZero())

	assert.Nil(t, Remove(record.Link))
	records, err = All()
	assert.Nil(t, err)
	assert.Empty(t, records)

	// removal of an absent row is a no-op
	assert.Nil(t, Remove(record.Link))
}

// tests that Clear returns and deletes every pending record
func TestClear(t *testing.T) {
	openTestStore(t)

	assert.Nil(t, Add(Record{ChatId: 1, Link: "l1", Tag: "@a"}))
	assert.Nil(t, Add(Record{ChatId: 2, Link: "l2", Tag: "@b"}))

	records, err := Clear()
	assert.Nil(t, err)
	assert.Len(t, records, 2)

	records, err = All()
	assert.Nil(t, err)
	assert.Empty(t, records)
}

// tests that journaling quietly no-ops when persistence is disabled
func TestDisabledPersistence(t *testing.T) {
	store.Close()
	assert.Nil(t, Add(Record{ChatId: 1, Link: "l1", Tag: "@a"}))
	records, err := All()
	assert.Nil(t, err)
	assert.Empty(t, records)
}
