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

func TestOutputNameSeriesRange(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{
		"Show S01E01.mkv", "Show S01E02.mkv", "Show S01E03.mkv",
	}, false)
	assert.Equal("Show S01E01-E03.mp4", name)
}

func TestOutputNameSeriesWithDotSeparators(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{
		"My.Show.S02E09.1080p.mkv", "My.Show.S02E10.1080p.mkv",
	}, false)
	assert.Equal("My Show S02E09-E10.mp4", name)
}

func TestOutputNamePartRange(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{
		"Concert Part 1.mp4", "Concert Part 2.mp4",
	}, false)
	assert.Equal("Concert Part 01-02.mp4", name)
}

func TestOutputNameTrailingNumbers(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{"lecture 1.mp4", "lecture 2.mp4"}, false)
	assert.Equal("lecture 01-02.mp4", name)
}

func TestOutputNameFallback(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{"holiday.mp4", "birthday.mp4"}, false)
	assert.Equal("holiday_merged.mp4", name)
}

func TestOutputNameAssSubtitlesForceMkv(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{
		"Show S01E01.mkv", "Show S01E02.mkv",
	}, true)
	assert.Equal("Show S01E01-E02.mkv", name)
}

func TestOutputNameMixedSeasonsFallsThrough(t *testing.T) {
	assert := assert.New(t)
	name := OutputName([]string{
		"Show S01E10.mkv", "Show S02E01.mkv",
	}, false)
	// different seasons can't collapse into one episode range
	assert.Equal("Show S01E10_merged.mp4", name)
}
