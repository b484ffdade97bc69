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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a runner that never touches the system: Run defers to onRun (or
// succeeds), Output defers to onOutput (or reports an empty probe)
type scriptedRunner struct {
	calls    [][]string
	onRun    func(argv []string) int
	onOutput func(argv []string) []byte
}

func (r *scriptedRunner) Run(ctx context.Context, argv []string,
	sink ProgressSink, cancel <-chan struct{}) (int, error) {
	r.calls = append(r.calls, argv)
	if r.onRun != nil {
		return r.onRun(argv), nil
	}
	return 0, nil
}

func (r *scriptedRunner) Output(ctx context.Context, argv []string) ([]byte, int, error) {
	if r.onOutput != nil {
		return r.onOutput(argv), 0, nil
	}
	return []byte(`{"format":{},"streams":[]}`), 0, nil
}

func newJob(t *testing.T, name string, isFile bool, runner Runner) *Job {
	t.Helper()
	return &Job{
		Dir:    t.TempDir(),
		Name:   name,
		IsFile: isFile,
		Runner: runner,
	}
}

func TestPipelinePassthrough(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	released := 0
	job := newJob(t, "movie.mkv", true, runner)
	job.SlotReleased = func() { released++ }
	writeFile(t, filepath.Join(job.Dir, "movie.mkv"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal(filepath.Join(job.Dir, "movie.mkv"), result.UploadPath)
	assert.Equal("movie.mkv", result.Name)
	assert.True(result.IsFile)
	assert.Equal(int64(len("payload")), result.Size)
	assert.Equal(1, released)
	assert.Empty(runner.calls)
}

func TestPipelineStopsWhenCancelled(t *testing.T) {
	assert := assert.New(t)
	job := newJob(t, "movie.mkv", true, &scriptedRunner{})
	job.Cancelled = func() bool { return true }

	_, err := RunPipeline(context.Background(), job)
	assert.Error(err)
	assert.IsType(CancelledError{}, err)
}

func TestPipelineCompressesPayload(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	runner.onRun = func(argv []string) int {
		// 7z writes the archive named right after the volume/password
		// switches; find it and create it
		for _, arg := range argv {
			if filepath.Ext(arg) == ".7z" {
				os.WriteFile(arg, []byte("archive!"), 0o644)
			}
		}
		return 0
	}
	job := newJob(t, "album", false, runner)
	job.Options.Compress = true
	job.Options.CompressPassword = "sekrit"
	writeFile(t, filepath.Join(job.Dir, "album", "track.flac"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal(filepath.Join(job.Dir, "album.7z"), result.UploadPath)
	assert.True(result.IsFile)
	assert.NoDirExists(filepath.Join(job.Dir, "album"))
	assert.Len(runner.calls, 1)
	assert.Equal("7z", runner.calls[0][0])
	assert.Contains(runner.calls[0], "-psekrit")
}

func TestPipelineRenameStages(t *testing.T) {
	assert := assert.New(t)
	job := newJob(t, "www.site.com - [grp] movie.mkv", true, &scriptedRunner{})
	job.Options.NameSub = `\[grp\] //`
	writeFile(t, filepath.Join(job.Dir, job.Name))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal("movie.mkv", result.Name)
	assert.FileExists(filepath.Join(job.Dir, "movie.mkv"))
}

func TestPipelineNamePrefix(t *testing.T) {
	assert := assert.New(t)
	job := newJob(t, "movie.mkv", true, &scriptedRunner{})
	job.Options.NamePrefix = "@chan"
	writeFile(t, filepath.Join(job.Dir, "movie.mkv"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal("@chan movie.mkv", result.Name)
}

func TestPipelineConvertRetriesWithTranscode(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	attempt := 0
	runner.onRun = func(argv []string) int {
		attempt++
		if attempt == 1 {
			return 1 // stream copy rejected
		}
		os.WriteFile(argv[len(argv)-1], []byte("converted"), 0o644)
		return 0
	}
	job := newJob(t, "movie.avi", true, runner)
	job.Options.ConvertVideo = "mkv"
	writeFile(t, filepath.Join(job.Dir, "movie.avi"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal("movie.mkv", result.Name)
	assert.NoFileExists(filepath.Join(job.Dir, "movie.avi"))
	assert.Equal(2, attempt)
	// the retry re-encodes instead of copying streams
	assert.Contains(runner.calls[1], "libx264")
}

func TestPipelineFiltersExtensionsBeforeRelease(t *testing.T) {
	assert := assert.New(t)
	job := newJob(t, "album", false, &scriptedRunner{})
	job.Options.ExcludedExtensions = []string{"nfo"}
	released := false
	job.SlotReleased = func() { released = true }
	writeFile(t, filepath.Join(job.Dir, "album", "track.flac"))
	writeFile(t, filepath.Join(job.Dir, "album", "release.nfo"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.True(released)
	assert.NoFileExists(filepath.Join(job.Dir, "album", "release.nfo"))
	assert.FileExists(filepath.Join(job.Dir, "album", "track.flac"))
	assert.False(result.IsFile)
}

func TestPipelineEmptyPayloadFails(t *testing.T) {
	assert := assert.New(t)
	job := newJob(t, "vanished.bin", true, &scriptedRunner{})

	_, err := RunPipeline(context.Background(), job)
	assert.Error(err)
	assert.IsType(StageError{}, err)
}

func TestPipelineThumbnailEmbedRemuxesToMkv(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	runner.onRun = func(argv []string) int {
		os.WriteFile(argv[len(argv)-1], []byte("payload"), 0o644)
		return 0
	}
	job := newJob(t, "clip.mp4", true, runner)
	job.Options.EmbedThumb = filepath.Join(t.TempDir(), "cover.jpg")
	writeFile(t, filepath.Join(job.Dir, "clip.mp4"))

	result, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Equal("clip.mkv", result.Name)
	assert.FileExists(filepath.Join(job.Dir, "clip.mkv"))
	assert.NoFileExists(filepath.Join(job.Dir, "clip.mp4"))
	assert.Len(runner.calls, 1)
	assert.Contains(runner.calls[0], "-attach")
}

func TestPipelineTiledThumbnails(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	runner.onOutput = func(argv []string) []byte {
		return []byte(`{"format":{"duration":"100.0"},` +
			`"streams":[{"codec_type":"video","codec_name":"h264"}]}`)
	}
	job := newJob(t, "movie.mkv", true, runner)
	job.Options.ThumbLayout = "3x2"
	writeFile(t, filepath.Join(job.Dir, "movie.mkv"))

	_, err := RunPipeline(context.Background(), job)
	assert.NoError(err)
	assert.Len(runner.calls, 1)
	assert.Equal("ffmpeg", runner.calls[0][0])
	assert.Contains(strings.Join(runner.calls[0], " "), "tile=3x2")
	assert.Contains(runner.calls[0][len(runner.calls[0])-1], "movie_tl.jpg")
}

func TestParseThumbLayout(t *testing.T) {
	assert := assert.New(t)
	for _, bad := range []string{"", "3", "0x3", "axb", "3x"} {
		_, _, err := parseThumbLayout(bad)
		assert.Error(err, bad)
	}
	cols, rows, err := parseThumbLayout("4X3")
	assert.NoError(err)
	assert.Equal(4, cols)
	assert.Equal(3, rows)
}

func TestSplitVideoKeepsOriginalOnFullLengthPart(t *testing.T) {
	assert := assert.New(t)
	runner := &scriptedRunner{}
	runner.onOutput = func(argv []string) []byte {
		// every probe reports the same full duration, mimicking an MKV
		// whose -fs cap was ignored
		return []byte(`{"format":{"duration":"120.0"},"streams":[]}`)
	}
	runner.onRun = func(argv []string) int {
		os.WriteFile(argv[len(argv)-1], []byte("full copy"), 0o644)
		return 0
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	writeFile(t, path)
	job := &Job{Dir: dir, Name: "movie.mkv", IsFile: true, Runner: runner}
	job.Options.SplitSize = 2

	err := splitVideo(context.Background(), job, path, int64(len("payload")))
	assert.NoError(err)
	assert.FileExists(path)
	assert.NoFileExists(filepath.Join(dir, "movie.part001.mkv"))
}
