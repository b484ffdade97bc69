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

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// tests the completion-notice size rendering
func TestReadableSize(t *testing.T) {
	assert.Equal(t, "0B", ReadableSize(0))
	assert.Equal(t, "512B", ReadableSize(512))
	assert.Equal(t, "12.06KB", ReadableSize(12345))
	assert.Equal(t, "1.00MB", ReadableSize(1024*1024))
	assert.Equal(t, "1.50GB", ReadableSize(3*1024*1024*1024/2))
}

// tests duration rendering
func TestReadableTime(t *testing.T) {
	assert.Equal(t, "0s", ReadableTime(0))
	assert.Equal(t, "42s", ReadableTime(42*time.Second))
	assert.Equal(t, "2m5s", ReadableTime(125*time.Second))
	assert.Equal(t, "1h0m3s", ReadableTime(3603*time.Second))
	assert.Equal(t, "1d0h0m0s", ReadableTime(24*time.Hour))
}

// tests progress bar bounds
func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[░░░░░░░░░░░]", ProgressBar(0))
	assert.Equal(t, "[███████████]", ProgressBar(100))
	assert.Len(t, []rune(ProgressBar(50)), 13)
}
