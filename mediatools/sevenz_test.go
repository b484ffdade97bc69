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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchiveRecognition(t *testing.T) {
	assert := assert.New(t)
	assert.True(IsArchive("movie.ZIP"))
	assert.True(IsArchive("backup.tar"))
	assert.True(IsArchive("disk.iso"))
	assert.False(IsArchive("movie.mkv"))
}

func TestArchiveSplitRecognition(t *testing.T) {
	assert := assert.New(t)
	assert.True(IsArchiveSplit("backup.zip.001"))
	assert.True(IsArchiveSplit("backup.part2.rar"))
	assert.True(IsArchiveSplit("backup.z01"))
	assert.True(IsArchiveSplit("backup.r00"))
	assert.False(IsArchiveSplit("backup.rar"))
}

func TestFirstArchiveSplitRecognition(t *testing.T) {
	assert := assert.New(t)
	assert.True(IsFirstArchiveSplit("backup.zip.001"))
	assert.True(IsFirstArchiveSplit("backup.part01.rar"))
	assert.True(IsFirstArchiveSplit("backup.z01"))
	assert.False(IsFirstArchiveSplit("backup.zip.002"))
	assert.False(IsFirstArchiveSplit("backup.part2.rar"))
}

func TestSecondSplitPartRecognition(t *testing.T) {
	assert := assert.New(t)
	assert.True(IsSecondSplitPart("video.mkv.002"))
	assert.True(IsSecondSplitPart("video.mkv.0002"))
	assert.False(IsSecondSplitPart("video.mkv.001"))
	assert.False(IsSecondSplitPart("video.mkv.003"))
}

func TestBaseNameStripsArchiveExtensions(t *testing.T) {
	assert := assert.New(t)
	base, err := BaseName("show.S01.7z")
	assert.NoError(err)
	assert.Equal("show.S01", base)

	_, err = BaseName("show.S01.mkv")
	assert.Error(err)
	assert.IsType(NotSupportedExtractorError{}, err)
}

func TestExtractArgsCarryPassword(t *testing.T) {
	assert := assert.New(t)
	argv := ExtractArgs("/dl/a.rar", "/dl/a", "secret")
	assert.Equal([]string{"7z", "x", "-psecret", "/dl/a.rar", "-o/dl/a",
		"-aot", "-xr!@PaxHeader", "-bso1", "-bsp1"}, argv)
}

func TestCompressArgsVolumeSplit(t *testing.T) {
	assert := assert.New(t)
	argv := CompressArgs("/dl/movie.mkv", "/dl/movie.mkv.7z", "", 2048)
	assert.Equal([]string{"7z", "a", "-v2048b", "/dl/movie.mkv.7z",
		"/dl/movie.mkv", "-mx=0", "-bso1", "-bsp1"}, argv)
}

func TestJoinArgs(t *testing.T) {
	assert := assert.New(t)
	argv := JoinArgs("/dl/task", "video.mkv")
	assert.Equal([]string{"7z", "x", "/dl/task/video.mkv.*", "-o/dl/task",
		"-aot", "-xr!@PaxHeader"}, argv)
}
