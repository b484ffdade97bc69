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

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMirrorWithDestination(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror https://example.test/file.bin -up gd")
	assert.NoError(err)
	assert.Equal("mirror", command.Verb)
	assert.Equal("https://example.test/file.bin", command.Link)
	assert.Equal("gd", command.Args.UploadDest)
}

func TestParseStripsBotMention(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/leech@SomeBot magnet:?xt=urn:btih:abc")
	assert.NoError(err)
	assert.Equal("leech", command.Verb)
	assert.Equal("magnet:?xt=urn:btih:abc", command.Link)
}

func TestParseHyphenatedVerbs(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/merge-commit")
	assert.NoError(err)
	assert.Equal("mergecommit", command.Verb)

	command, err = Parse("/merge_cancel")
	assert.NoError(err)
	assert.Equal("mergecancel", command.Verb)
}

func TestParseRejectsUnknownVerb(t *testing.T) {
	assert := assert.New(t)
	_, err := Parse("/frobnicate something")
	assert.Error(err)
	assert.IsType(UnknownVerbError{}, err)

	_, err = Parse("just chatter")
	assert.IsType(UnknownVerbError{}, err)
}

func TestParseMultiWordName(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror https://x.test/a.bin -n My Great File -up rc:remote:path")
	assert.NoError(err)
	assert.Equal("My Great File", command.Args.Name)
	assert.Equal("rc:remote:path", command.Args.UploadDest)
	assert.Equal("https://x.test/a.bin", command.Link)
}

func TestParseBooleanFlags(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/leech https://x.test/a.rar -e -ss -doc -s")
	assert.NoError(err)
	assert.True(command.Args.Extract)
	assert.True(command.Args.Screenshots)
	assert.True(command.Args.AsDocument)
	assert.True(command.Args.Select)
	assert.False(command.Args.Compress)
}

func TestParseSeedWithRatioAndTime(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror magnet:?xt=x -d:1.5:3600")
	assert.NoError(err)
	assert.True(command.Args.Seed)
	assert.Equal(1.5, command.Args.SeedRatio)
	assert.Equal(3600, command.Args.SeedTime)

	command, err = Parse("/mirror magnet:?xt=x -d")
	assert.NoError(err)
	assert.True(command.Args.Seed)
	assert.Zero(command.Args.SeedRatio)
}

func TestParseArchivePasswords(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror https://x.test/a.7z -e:opensesame")
	assert.NoError(err)
	assert.True(command.Args.Extract)
	assert.Equal("opensesame", command.Args.ExtractPassword)

	command, err = Parse("/leech https://x.test/dir -z:sekrit")
	assert.NoError(err)
	assert.True(command.Args.Compress)
	assert.Equal("sekrit", command.Args.CompressPassword)
	assert.Zero(command.Args.VolumeSize)

	command, err = Parse("/leech https://x.test/dir -z:sekrit:100MB")
	assert.NoError(err)
	assert.Equal("sekrit", command.Args.CompressPassword)
	assert.Equal(int64(100000000), command.Args.VolumeSize)

	_, err = Parse("/leech https://x.test/dir -z:sekrit:tiny")
	assert.Equal(BadFlagValueError{Flag: "-z", Value: "-z:sekrit:tiny"}, err)

	// the bare forms still work with no password
	command, err = Parse("/mirror https://x.test/a.7z -e -z")
	assert.NoError(err)
	assert.True(command.Args.Extract)
	assert.True(command.Args.Compress)
	assert.Empty(command.Args.ExtractPassword)
	assert.Empty(command.Args.CompressPassword)
}

func TestParseBulkSlice(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror -b:2:7")
	assert.NoError(err)
	assert.True(command.Args.Bulk)
	assert.Equal(2, command.Args.BulkStart)
	assert.Equal(7, command.Args.BulkEnd)
}

func TestParseSplitSizeAcceptsHumanUnits(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/leech https://x.test/a.mkv -sp 2GiB")
	assert.NoError(err)
	assert.Equal(int64(2)<<30, command.Args.SplitSize)

	_, err = Parse("/leech https://x.test/a.mkv -sp lots")
	assert.IsType(BadFlagValueError{}, err)
}

func TestParseHeaders(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/mirror https://x.test/a.bin -h Referer: https://x.test | Cookie: k=v")
	assert.NoError(err)
	assert.Equal([]string{"Referer: https://x.test", "Cookie: k=v"}, command.Args.Headers)
}

func TestParseMissingFlagValue(t *testing.T) {
	assert := assert.New(t)
	_, err := Parse("/mirror https://x.test/a.bin -n")
	assert.IsType(BadFlagValueError{}, err)
}

func TestUpgradeWatermarkFromBareText(t *testing.T) {
	assert := assert.New(t)
	mark := UpgradeWatermark("@mychannel")
	assert.Equal(map[string]string{"text": "@mychannel"}, mark)
}

func TestUpgradeWatermarkKeyedForm(t *testing.T) {
	assert := assert.New(t)
	mark := UpgradeWatermark("text=@mychannel;position=bottom-right;opacity=0.5")
	assert.Equal("@mychannel", mark["text"])
	assert.Equal("bottom-right", mark["position"])
	assert.Equal("0.5", mark["opacity"])
}

func TestParseNoLinkLeavesItEmpty(t *testing.T) {
	assert := assert.New(t)
	command, err := Parse("/leech -z")
	assert.NoError(err)
	assert.Empty(command.Link)
	assert.True(command.Args.Compress)
}
