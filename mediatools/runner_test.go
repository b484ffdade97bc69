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

package mediatools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	updates [][2]int64
}

func (s *recordingSink) Update(processed, total int64) {
	s.updates = append(s.updates, [2]int64{processed, total})
}

func TestRewriteFFmpegArgsInsertsMissingSwitches(t *testing.T) {
	assert := assert.New(t)
	argv := RewriteFFmpegArgs([]string{"xtra", "-i", "{input}", "out.mkv"})
	assert.Equal([]string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", "{input}", "out.mkv"}, argv)
}

func TestRewriteFFmpegArgsKeepsExistingSwitches(t *testing.T) {
	assert := assert.New(t)
	argv := RewriteFFmpegArgs([]string{"ffmpeg", "-hide_banner", "-loglevel",
		"info", "-progress", "pipe:1", "-i", "a", "b"})
	assert.Equal("ffmpeg", argv[0])
	assert.Equal(1, strings.Count(strings.Join(argv, " "), "-loglevel"))
}

func TestParseProgressReadsFFmpegRecords(t *testing.T) {
	assert := assert.New(t)
	sink := &recordingSink{}
	output := "out_time_ms=1000000\ntotal_size=2048\nprogress=continue\n" +
		"total_size=4096\nprogress=end\n"
	parseProgress(strings.NewReader(output), sink)
	assert.NotEmpty(sink.updates)
	last := sink.updates[len(sink.updates)-1]
	assert.Equal(int64(4096), last[0])
}

func TestParseProgressReadsSevenZipPercentages(t *testing.T) {
	assert := assert.New(t)
	sink := &recordingSink{}
	parseProgress(strings.NewReader(" 42% 13 + some/file.bin\n 97%\n"), sink)
	assert.Equal([][2]int64{{42, 100}, {97, 100}}, sink.updates)
}

func TestSevenZipPercentRejectsNoise(t *testing.T) {
	assert := assert.New(t)
	_, ok := sevenZipPercent("Everything is Ok")
	assert.False(ok)
	_, ok = sevenZipPercent("%")
	assert.False(ok)
	_, ok = sevenZipPercent("200% weird")
	assert.False(ok)
}
