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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

func timeTick() <-chan time.Time {
	return time.After(500 * time.Millisecond)
}

// processing switches for one task, resolved from its flags and the
// owner's saved settings
type Options struct {
	Join               bool
	Extract            bool
	ExtractPassword    string
	FFmpegCmds         [][]string
	Screenshots        int
	ConvertAudio       string // target extension like "mp3"; empty = off
	ConvertVideo       string
	SampleDuration     int // seconds of sample to produce; 0 = off
	SamplePartDuration int
	Metadata           string
	EmbedThumb         string
	ThumbLayout        string // contact-sheet grid like "3x3"; empty = off
	IncludedExtensions []string
	ExcludedExtensions []string
	Compress           bool
	CompressPassword   string
	VolumeSize         int64
	Watermark          map[string]string
	NamePrefix         string
	NameSub            string
	SplitSize          int64
	IsLeech            bool
}

// one run of the post-download processing chain
type Job struct {
	Dir      string
	Name     string
	IsFile   bool
	Options  Options
	Runner   Runner
	Progress ProgressSink
	// polled between stages and between tool invocations
	Cancelled func() bool
	// invoked exactly once, after extension filtering, so the admission
	// controller can hand the download slot to the next waiter
	SlotReleased func()
}

// what the uploader receives once processing finishes
type Result struct {
	UploadPath string
	Name       string
	Size       int64
	IsFile     bool
}

func (job *Job) cancelled() bool {
	return job.Cancelled != nil && job.Cancelled()
}

func (job *Job) progress() ProgressSink {
	if job.Progress == nil {
		return NullSink{}
	}
	return job.Progress
}

// runs every enabled stage in order on the downloaded payload; stages
// mutate the upload path as they replace files, and a cancellation
// observed between stages aborts the rest of the chain
func RunPipeline(ctx context.Context, job *Job) (Result, error) {
	if job.cancelled() {
		return Result{}, CancelledError{}
	}
	options := &job.Options

	if options.Join {
		if info, err := os.Stat(job.Dir); err == nil && info.IsDir() {
			if err := joinSplitFiles(ctx, job, job.Dir); err != nil {
				return Result{}, err
			}
		}
	}

	// the payload, file or folder, lives inside the task directory
	upPath := filepath.Join(job.Dir, job.Name)

	if options.Extract {
		newPath, err := extractArchives(ctx, job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	for _, command := range options.FFmpegCmds {
		if err := runUserFFmpeg(ctx, job, upPath, command); err != nil {
			return Result{}, err
		}
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	// the payload may have been replaced wholesale; fall back to the
	// first surviving entry
	if _, err := os.Stat(upPath); err != nil {
		entries, err := os.ReadDir(job.Dir)
		if err != nil || len(entries) == 0 {
			return Result{}, StageError{Stage: "resolve",
				Reason: "Download completed but no file or folder was found."}
		}
		job.Name = entries[0].Name()
		if job.Name == thumbDirName && len(entries) > 1 {
			job.Name = entries[1].Name()
		}
		upPath = filepath.Join(job.Dir, job.Name)
	}
	job.refresh(upPath)

	if options.Screenshots > 0 {
		newPath, err := generateScreenshots(ctx, job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.refresh(upPath)
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.ConvertAudio != "" || options.ConvertVideo != "" {
		newPath, err := convertMedia(ctx, job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.refresh(upPath)
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.SampleDuration > 0 {
		if err := generateSampleVideos(ctx, job, upPath); err != nil {
			return Result{}, err
		}
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.Metadata != "" {
		if err := applyMetadata(ctx, job, upPath); err != nil {
			return Result{}, err
		}
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.EmbedThumb != "" {
		newPath, err := embedThumbnails(ctx, job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.refresh(upPath)
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.ThumbLayout != "" {
		if err := generateTiledThumbs(ctx, job, upPath); err != nil {
			return Result{}, err
		}
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if len(options.IncludedExtensions) > 0 {
		if err := RemoveNonIncludedFiles(job.Dir, options.IncludedExtensions); err != nil {
			return Result{}, StageError{Stage: "filter", Reason: err.Error()}
		}
	} else if err := RemoveExcludedFiles(job.Dir, options.ExcludedExtensions); err != nil {
		return Result{}, StageError{Stage: "filter", Reason: err.Error()}
	}

	// processing from here on only needs disk and CPU, so the download
	// slot can go to the next queued task
	if job.SlotReleased != nil {
		job.SlotReleased()
	}

	if options.Compress {
		newPath, err := compressPayload(ctx, job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.IsFile = true
		job.Name = strings.TrimPrefix(upPath, job.Dir+"/")
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if len(options.Watermark) > 0 {
		if err := applyWatermarks(ctx, job, upPath); err != nil {
			return Result{}, err
		}
		if job.cancelled() {
			return Result{}, CancelledError{}
		}
	}

	if options.IsLeech && options.SplitSize > 0 {
		size, err := PathSize(upPath)
		if err != nil {
			return Result{}, StageError{Stage: "split", Reason: err.Error()}
		}
		if size > options.SplitSize {
			if err := splitOversized(ctx, job, upPath); err != nil {
				return Result{}, err
			}
			if job.cancelled() {
				return Result{}, CancelledError{}
			}
		}
	}

	if options.NamePrefix != "" {
		newPath, err := applyNamePrefix(job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.refresh(upPath)
	}

	if stripped := StripWwwPrefix(filepath.Base(upPath)); stripped != filepath.Base(upPath) {
		newPath, err := renameBase(upPath, stripped)
		if err != nil {
			return Result{}, StageError{Stage: "rename", Reason: err.Error()}
		}
		upPath = newPath
		job.refresh(upPath)
	}

	if options.NameSub != "" {
		newPath, err := substituteNames(job, upPath)
		if err != nil {
			return Result{}, err
		}
		upPath = newPath
		job.refresh(upPath)
	}

	size, err := PathSize(upPath)
	if err != nil {
		return Result{}, StageError{Stage: "finalize", Reason: err.Error()}
	}
	return Result{UploadPath: upPath, Name: job.Name, Size: size,
		IsFile: job.IsFile}, nil
}

// re-derives name and file-ness after a stage replaced the payload
func (job *Job) refresh(upPath string) {
	info, err := os.Stat(upPath)
	job.IsFile = err == nil && !info.IsDir()
	relative := strings.TrimPrefix(upPath, job.Dir+"/")
	job.Name = strings.SplitN(relative, "/", 2)[0]
}

// runs one tool and maps its exit status onto stage semantics
func (job *Job) runTool(ctx context.Context, stage string, argv []string,
	sink ProgressSink) error {
	cancel := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		// poll-free bridge is not possible without a channel on the
		// task, so watch the flag alongside the tool
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if job.cancelled() {
				close(cancel)
				return
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-timeTick():
			}
		}
	}()
	code, err := job.Runner.Run(ctx, argv, sink, cancel)
	if err != nil {
		return StageError{Stage: stage, Reason: err.Error()}
	}
	if code == KilledExitCode {
		return CancelledError{}
	}
	if code != 0 {
		return StageError{Stage: stage,
			Reason: argv[0] + " exited with code " + strconv.Itoa(code)}
	}
	return nil
}

// collects the files beneath path (or path itself) that satisfy keep
func collectFiles(path string, keep func(string) bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if keep(path) {
			return []string{path}, nil
		}
		return nil, nil
	}
	var matches []string
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == thumbDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if keep(p) {
			matches = append(matches, p)
		}
		return nil
	})
	sort.Strings(matches)
	return matches, err
}

// reassembles ".001 .002 ..." split sets found anywhere under dir
func joinSplitFiles(ctx context.Context, job *Job, dir string) error {
	secondParts, err := collectFiles(dir, func(p string) bool {
		return IsSecondSplitPart(filepath.Base(p))
	})
	if err != nil {
		return StageError{Stage: "join", Reason: err.Error()}
	}
	for _, part := range secondParts {
		base := strings.TrimSuffix(filepath.Base(part), filepath.Ext(part))
		partDir := filepath.Dir(part)
		slog.Info(fmt.Sprintf("Joining split parts of %s", base))
		if err := job.runTool(ctx, "join", JoinArgs(partDir, base),
			job.progress()); err != nil {
			return err
		}
		parts, globErr := filepath.Glob(filepath.Join(partDir, base) + ".*")
		if globErr != nil {
			continue
		}
		for _, p := range parts {
			if IsSecondSplitPart(p) || strings.HasSuffix(p, ".001") ||
				archiveSplitRe.MatchString(strings.ToLower(p)) {
				os.Remove(p)
			}
		}
	}
	return nil
}

// extracts every archive in the payload; single archives expand into a
// directory named after their base, multi-volume sets extract from
// their first volume only, and sources are removed afterwards
func extractArchives(ctx context.Context, job *Job, upPath string) (string, error) {
	options := &job.Options
	if job.IsFile {
		if !IsArchive(upPath) {
			return upPath, nil
		}
		destination, err := BaseName(upPath)
		if err != nil {
			return "", StageError{Stage: "extract", Reason: err.Error()}
		}
		slog.Info(fmt.Sprintf("Extracting %s", filepath.Base(upPath)))
		if err := job.runTool(ctx, "extract",
			ExtractArgs(upPath, destination, options.ExtractPassword),
			job.progress()); err != nil {
			return "", err
		}
		os.Remove(upPath)
		return destination, nil
	}
	archives, err := collectFiles(upPath, func(p string) bool {
		if IsArchiveSplit(p) {
			return IsFirstArchiveSplit(p)
		}
		return IsArchive(p)
	})
	if err != nil {
		return "", StageError{Stage: "extract", Reason: err.Error()}
	}
	for _, archive := range archives {
		if job.cancelled() {
			return "", CancelledError{}
		}
		slog.Info(fmt.Sprintf("Extracting %s", filepath.Base(archive)))
		if err := job.runTool(ctx, "extract",
			ExtractArgs(archive, filepath.Dir(archive), options.ExtractPassword),
			job.progress()); err != nil {
			return "", err
		}
		if IsArchiveSplit(archive) {
			base := archive[:strings.LastIndex(archive, ".")]
			if volumes, err := filepath.Glob(base + ".*"); err == nil {
				for _, volume := range volumes {
					os.Remove(volume)
				}
			}
		} else {
			os.Remove(archive)
		}
	}
	return upPath, nil
}

// runs one user-supplied ffmpeg command against every media file in the
// payload, substituting the input placeholder for each
func runUserFFmpeg(ctx context.Context, job *Job, upPath string, command []string) error {
	files, err := collectFiles(upPath, func(p string) bool {
		return IsVideo(p) || IsAudio(p)
	})
	if err != nil {
		return StageError{Stage: "ffmpeg", Reason: err.Error()}
	}
	for _, file := range files {
		if job.cancelled() {
			return CancelledError{}
		}
		argv := RewriteFFmpegArgs(command)
		for i, arg := range argv {
			if arg == "mltb" || arg == "input.mp4" {
				argv[i] = file
			}
			argv[i] = strings.ReplaceAll(argv[i], "{input}", file)
		}
		if err := job.runTool(ctx, "ffmpeg", argv, job.progress()); err != nil {
			return err
		}
	}
	return nil
}

// takes evenly spaced frames from each video: count shots at
// duration/(count+1) intervals, written into a sibling "<name>_ss"
// folder; a single file moves inside the folder so both travel together
func generateScreenshots(ctx context.Context, job *Job, upPath string) (string, error) {
	count := job.Options.Screenshots
	videos, err := collectFiles(upPath, IsVideo)
	if err != nil {
		return "", StageError{Stage: "screenshots", Reason: err.Error()}
	}
	if len(videos) == 0 {
		return upPath, nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, video := range videos {
		group.Go(func() error {
			info, err := Probe(groupCtx, job.Runner, video)
			if err != nil {
				slog.Warn(err.Error())
				return nil
			}
			if info.Duration <= 0 {
				return nil
			}
			shotsDir := video + "_ss"
			if err := os.MkdirAll(shotsDir, 0o755); err != nil {
				return StageError{Stage: "screenshots", Reason: err.Error()}
			}
			interval := info.Duration / float64(count+1)
			for i := 1; i <= count; i++ {
				output := filepath.Join(shotsDir,
					fmt.Sprintf("%s_%02d.jpg", filepath.Base(video), i))
				if err := job.runTool(groupCtx, "screenshots",
					ScreenshotArgs(video, output, interval*float64(i)),
					NullSink{}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}
	if job.IsFile {
		shotsDir := upPath + "_ss"
		moved := filepath.Join(shotsDir, filepath.Base(upPath))
		if err := os.Rename(upPath, moved); err != nil {
			return "", StageError{Stage: "screenshots", Reason: err.Error()}
		}
		return shotsDir, nil
	}
	return upPath, nil
}

// converts audio and video files to the requested target formats; a
// video conversion retries with a transcode when the stream copy fails
func convertMedia(ctx context.Context, job *Job, upPath string) (string, error) {
	options := &job.Options
	files, err := collectFiles(upPath, func(p string) bool {
		return (options.ConvertVideo != "" && IsVideo(p)) ||
			(options.ConvertAudio != "" && IsAudio(p))
	})
	if err != nil {
		return "", StageError{Stage: "convert", Reason: err.Error()}
	}
	result := upPath
	for _, file := range files {
		if job.cancelled() {
			return "", CancelledError{}
		}
		var output string
		var converr error
		if IsVideo(file) {
			target := "." + strings.TrimPrefix(options.ConvertVideo, ".")
			if strings.EqualFold(filepath.Ext(file), target) {
				continue
			}
			output = strings.TrimSuffix(file, filepath.Ext(file)) + target
			converr = job.runTool(ctx, "convert",
				ConvertVideoArgs(file, output, false), job.progress())
			if converr != nil {
				if _, cancelled := converr.(CancelledError); cancelled {
					return "", converr
				}
				os.Remove(output)
				slog.Info(fmt.Sprintf("Retrying %s with a full transcode",
					filepath.Base(file)))
				converr = job.runTool(ctx, "convert",
					ConvertVideoArgs(file, output, true), job.progress())
			}
		} else {
			target := "." + strings.TrimPrefix(options.ConvertAudio, ".")
			if strings.EqualFold(filepath.Ext(file), target) {
				continue
			}
			output = strings.TrimSuffix(file, filepath.Ext(file)) + target
			converr = job.runTool(ctx, "convert",
				ConvertAudioArgs(file, output), job.progress())
		}
		if converr != nil {
			os.Remove(output)
			return "", converr
		}
		os.Remove(file)
		if job.IsFile {
			result = output
		}
	}
	return result, nil
}

// produces a short sample clip alongside each video, stitched from
// evenly spaced slices
func generateSampleVideos(ctx context.Context, job *Job, upPath string) error {
	options := &job.Options
	videos, err := collectFiles(upPath, IsVideo)
	if err != nil {
		return StageError{Stage: "sample", Reason: err.Error()}
	}
	sliceDuration := float64(options.SamplePartDuration)
	if sliceDuration <= 0 {
		sliceDuration = 4
	}
	for _, video := range videos {
		if job.cancelled() {
			return CancelledError{}
		}
		info, err := Probe(ctx, job.Runner, video)
		if err != nil || info.Duration <= float64(options.SampleDuration) {
			continue
		}
		slices := int(float64(options.SampleDuration) / sliceDuration)
		if slices < 1 {
			slices = 1
		}
		offsets := make([]float64, slices)
		interval := info.Duration / float64(slices+1)
		for i := range offsets {
			offsets[i] = interval * float64(i+1)
		}
		output := filepath.Join(filepath.Dir(video),
			"SAMPLE."+filepath.Base(video))
		if err := job.runTool(ctx, "sample",
			SampleVideoArgs(video, output, offsets, sliceDuration),
			job.progress()); err != nil {
			return err
		}
	}
	return nil
}

// rewrites the title tags of every media file in place
func applyMetadata(ctx context.Context, job *Job, upPath string) error {
	files, err := collectFiles(upPath, func(p string) bool {
		return IsVideo(p) || IsAudio(p)
	})
	if err != nil {
		return StageError{Stage: "metadata", Reason: err.Error()}
	}
	for _, file := range files {
		if job.cancelled() {
			return CancelledError{}
		}
		temp := filepath.Join(filepath.Dir(file), ".meta."+filepath.Base(file))
		if err := job.runTool(ctx, "metadata",
			MetadataArgs(file, temp, job.Options.Metadata),
			job.progress()); err != nil {
			os.Remove(temp)
			return err
		}
		if err := os.Rename(temp, file); err != nil {
			return StageError{Stage: "metadata", Reason: err.Error()}
		}
	}
	return nil
}

// attaches the configured cover image to every video in place
func embedThumbnails(ctx context.Context, job *Job, upPath string) (string, error) {
	videos, err := collectFiles(upPath, IsVideo)
	if err != nil {
		return "", StageError{Stage: "thumbnail", Reason: err.Error()}
	}
	for _, video := range videos {
		if job.cancelled() {
			return "", CancelledError{}
		}
		// the attachment remuxes into MKV, so the container changes along
		// with the extension
		output := video
		if !strings.EqualFold(filepath.Ext(video), ".mkv") {
			output = strings.TrimSuffix(video, filepath.Ext(video)) + ".mkv"
		}
		temp := filepath.Join(filepath.Dir(video), ".thumb."+filepath.Base(output))
		if err := job.runTool(ctx, "thumbnail",
			EmbedThumbArgs(video, job.Options.EmbedThumb, temp),
			job.progress()); err != nil {
			os.Remove(temp)
			return "", err
		}
		if output != video {
			os.Remove(video)
		}
		if err := os.Rename(temp, output); err != nil {
			return "", StageError{Stage: "thumbnail", Reason: err.Error()}
		}
		if video == upPath {
			upPath = output
		}
	}
	return upPath, nil
}

// renders one contact sheet per video: a cols x rows grid of frames
// sampled evenly across the duration, written as "<name>_tl.jpg" next
// to the video
func generateTiledThumbs(ctx context.Context, job *Job, upPath string) error {
	cols, rows, err := parseThumbLayout(job.Options.ThumbLayout)
	if err != nil {
		return err
	}
	videos, err := collectFiles(upPath, IsVideo)
	if err != nil {
		return StageError{Stage: "thumbnails", Reason: err.Error()}
	}
	for _, video := range videos {
		if job.cancelled() {
			return CancelledError{}
		}
		info, err := Probe(ctx, job.Runner, video)
		if err != nil {
			slog.Warn(err.Error())
			continue
		}
		if info.Duration <= 0 {
			continue
		}
		interval := info.Duration / float64(cols*rows+1)
		output := strings.TrimSuffix(video, filepath.Ext(video)) + "_tl.jpg"
		if err := job.runTool(ctx, "thumbnails",
			TiledThumbArgs(video, output, cols, rows, interval),
			NullSink{}); err != nil {
			return err
		}
	}
	return nil
}

// parses a grid like "3x3" into its column and row counts
func parseThumbLayout(layout string) (int, int, error) {
	columns, rowPart, found := strings.Cut(strings.ToLower(layout), "x")
	if !found {
		return 0, 0, StageError{Stage: "thumbnails",
			Reason: fmt.Sprintf("Invalid grid %q (expected COLSxROWS).", layout)}
	}
	cols, colErr := strconv.Atoi(columns)
	rows, rowErr := strconv.Atoi(rowPart)
	if colErr != nil || rowErr != nil || cols < 1 || rows < 1 {
		return 0, 0, StageError{Stage: "thumbnails",
			Reason: fmt.Sprintf("Invalid grid %q (expected COLSxROWS).", layout)}
	}
	return cols, rows, nil
}

// stores the payload into an uncompressed "{name}.7z", optionally
// password-protected and split into volumes when a volume size was
// requested
func compressPayload(ctx context.Context, job *Job, upPath string) (string, error) {
	options := &job.Options
	archive := upPath + ".7z"
	slog.Info(fmt.Sprintf("Compressing %s", filepath.Base(upPath)))
	if err := job.runTool(ctx, "compress",
		CompressArgs(upPath, archive, options.CompressPassword, options.VolumeSize),
		job.progress()); err != nil {
		return "", err
	}
	os.RemoveAll(upPath)
	return archive, nil
}

// burns the text watermark into every video in place
func applyWatermarks(ctx context.Context, job *Job, upPath string) error {
	videos, err := collectFiles(upPath, IsVideo)
	if err != nil {
		return StageError{Stage: "watermark", Reason: err.Error()}
	}
	for _, video := range videos {
		if job.cancelled() {
			return CancelledError{}
		}
		temp := filepath.Join(filepath.Dir(video), ".wm."+filepath.Base(video))
		if err := job.runTool(ctx, "watermark",
			WatermarkArgs(video, temp, job.Options.Watermark),
			job.progress()); err != nil {
			os.Remove(temp)
			return err
		}
		if err := os.Rename(temp, video); err != nil {
			return StageError{Stage: "watermark", Reason: err.Error()}
		}
	}
	return nil
}

// cuts files larger than the leech split size into parts: videos are
// sliced on keyframes with a 3-second overlap between parts, everything
// else becomes 7z volumes
func splitOversized(ctx context.Context, job *Job, upPath string) error {
	files, err := collectFiles(upPath, func(string) bool { return true })
	if err != nil {
		return StageError{Stage: "split", Reason: err.Error()}
	}
	splitSize := job.Options.SplitSize
	for _, file := range files {
		if job.cancelled() {
			return CancelledError{}
		}
		size, err := PathSize(file)
		if err != nil || size <= splitSize {
			continue
		}
		if IsVideo(file) {
			if err := splitVideo(ctx, job, file, size); err != nil {
				return err
			}
		} else {
			slog.Info(fmt.Sprintf("Splitting %s into volumes", filepath.Base(file)))
			if err := job.runTool(ctx, "split",
				CompressArgs(file, file+".7z", "", splitSize),
				job.progress()); err != nil {
				return err
			}
			os.Remove(file)
		}
	}
	return nil
}

// slices one oversized video into size-capped parts; each part starts 3
// seconds before the previous one ended so no frame falls between parts
func splitVideo(ctx context.Context, job *Job, path string, size int64) error {
	info, err := Probe(ctx, job.Runner, path)
	if err != nil {
		return StageError{Stage: "split", Reason: err.Error()}
	}
	extension := filepath.Ext(path)
	base := strings.TrimSuffix(path, extension)
	var startTime int64
	for part := 1; ; part++ {
		if job.cancelled() {
			return CancelledError{}
		}
		output := fmt.Sprintf("%s.part%03d%s", base, part, extension)
		if err := job.runTool(ctx, "split",
			SplitVideoArgs(path, output, startTime, job.Options.SplitSize),
			job.progress()); err != nil {
			os.Remove(output)
			return err
		}
		partInfo, err := Probe(ctx, job.Runner, output)
		if err != nil {
			return StageError{Stage: "split", Reason: err.Error()}
		}
		remaining := info.Duration - float64(startTime)
		if partInfo.Duration >= remaining-1 {
			// last part reached
			if part == 1 && partInfo.Duration >= info.Duration-1 {
				// some MKV muxes ignore -fs and emit the whole file in
				// one part; keep the original rather than loop forever
				slog.Warn(fmt.Sprintf(
					"Splitting %s produced a single full-length part; keeping the original",
					filepath.Base(path)))
				os.Remove(output)
				return nil
			}
			break
		}
		startTime += int64(partInfo.Duration) - 3
		if startTime <= 0 {
			return StageError{Stage: "split",
				Reason: "The split made no forward progress."}
		}
	}
	os.Remove(path)
	return nil
}

// prepends the owner's leech prefix to every file name
func applyNamePrefix(job *Job, upPath string) (string, error) {
	prefix := job.Options.NamePrefix
	if job.IsFile {
		newPath, err := renameBase(upPath, prefix+" "+filepath.Base(upPath))
		if err != nil {
			return "", StageError{Stage: "rename", Reason: err.Error()}
		}
		return newPath, nil
	}
	files, err := collectFiles(upPath, func(string) bool { return true })
	if err != nil {
		return "", StageError{Stage: "rename", Reason: err.Error()}
	}
	for _, file := range files {
		if _, err := renameBase(file, prefix+" "+filepath.Base(file)); err != nil {
			return "", StageError{Stage: "rename", Reason: err.Error()}
		}
	}
	return upPath, nil
}

// applies the owner's name substitution rules to every file name
func substituteNames(job *Job, upPath string) (string, error) {
	rules, err := ParseSubstitutions(job.Options.NameSub)
	if err != nil {
		return "", StageError{Stage: "rename", Reason: err.Error()}
	}
	if job.IsFile {
		newName := ApplySubstitutions(filepath.Base(upPath), rules)
		newPath, err := renameBase(upPath, newName)
		if err != nil {
			return "", StageError{Stage: "rename", Reason: err.Error()}
		}
		return newPath, nil
	}
	files, err := collectFiles(upPath, func(string) bool { return true })
	if err != nil {
		return "", StageError{Stage: "rename", Reason: err.Error()}
	}
	for _, file := range files {
		newName := ApplySubstitutions(filepath.Base(file), rules)
		if _, err := renameBase(file, newName); err != nil {
			return "", StageError{Stage: "rename", Reason: err.Error()}
		}
	}
	return upPath, nil
}
