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
	"testing"

	"github.com/stretchr/testify/assert"
)

const owner = int64(42)

func TestStartIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()

	opened, pending := table.Start(owner)
	assert.True(opened)
	assert.Zero(pending)

	_, _, err := table.Add(owner, Input{MessageId: 1})
	assert.NoError(err)

	opened, pending = table.Start(owner)
	assert.False(opened)
	assert.Equal(1, pending)
}

func TestAddRequiresOpenSession(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	_, _, err := table.Add(owner, Input{MessageId: 1})
	assert.Error(err)
	assert.IsType(NoSessionError{}, err)
}

func TestAddRejectsDuplicates(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)

	_, _, err := table.Add(owner, Input{MessageId: 7})
	assert.NoError(err)
	_, _, err = table.Add(owner, Input{MessageId: 7})
	assert.IsType(DuplicateInputError{}, err)

	_, _, err = table.Add(owner, Input{URL: "https://Example.com/file/"})
	assert.NoError(err)
	_, _, err = table.Add(owner, Input{URL: "http://example.com/file"})
	assert.IsType(DuplicateInputError{}, err)
}

func TestAddEnforcesSizeCap(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)

	_, _, err := table.Add(owner, Input{MessageId: 1, Size: MaxTotalSize - 1})
	assert.NoError(err)
	_, _, err = table.Add(owner, Input{MessageId: 2, Size: 2})
	assert.IsType(SizeLimitError{}, err)
}

func TestAutoCommitAtCapacity(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)

	for id := int64(1); id < MaxInputs; id++ {
		committed, _, err := table.Add(owner, Input{MessageId: id})
		assert.NoError(err)
		assert.False(committed)
	}
	committed, pending, err := table.Add(owner, Input{MessageId: MaxInputs})
	assert.NoError(err)
	assert.True(committed)
	assert.Equal(MaxInputs, pending)
}

func TestCommitNeedsTwoInputs(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)
	table.Add(owner, Input{MessageId: 1})

	_, err := table.Commit(owner)
	assert.IsType(NotEnoughInputsError{}, err)
}

func TestCommitRemovesSession(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)
	table.Add(owner, Input{MessageId: 1})
	table.Add(owner, Input{MessageId: 2})

	inputs, err := table.Commit(owner)
	assert.NoError(err)
	assert.Len(inputs, 2)
	assert.Equal(int64(1), inputs[0].MessageId)
	assert.Equal(int64(2), inputs[1].MessageId)

	// a fresh session can open right away
	opened, _ := table.Start(owner)
	assert.True(opened)
}

func TestCancelDiscardsInputs(t *testing.T) {
	assert := assert.New(t)
	table := NewTable()
	table.Start(owner)
	table.Add(owner, Input{MessageId: 1})

	assert.NoError(table.Cancel(owner))
	_, found := table.Pending(owner)
	assert.False(found)
	assert.IsType(NoSessionError{}, table.Cancel(owner))
}

func TestExpandRange(t *testing.T) {
	assert := assert.New(t)
	inputs, err := ExpandRange("t.me/c/12345/100-103")
	assert.NoError(err)
	assert.Len(inputs, 4)
	assert.Equal(int64(100), inputs[0].MessageId)
	assert.Equal(int64(103), inputs[3].MessageId)
}

func TestExpandRangeCapsAtSessionLimit(t *testing.T) {
	assert := assert.New(t)
	inputs, err := ExpandRange("chat/1-500")
	assert.NoError(err)
	assert.Len(inputs, MaxInputs)
}

func TestExpandRangeRejectsInvertedSpans(t *testing.T) {
	assert := assert.New(t)
	_, err := ExpandRange("chat/9-3")
	assert.IsType(BadRangeError{}, err)
	_, err = ExpandRange("no range here")
	assert.IsType(BadRangeError{}, err)
}
