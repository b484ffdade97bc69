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
	"fmt"
	"path/filepath"
	"strings"
)

// picks the subtitle codec a container can carry when streams must be
// re-encoded
func subtitleCodec(outputExt string) string {
	switch strings.ToLower(outputExt) {
	case ".mp4":
		return "mov_text"
	case ".mkv":
		return "ass"
	default:
		return "copy"
	}
}

// builds the remux command for converting a video container; when
// reencode is set the streams are transcoded instead of copied, which
// recovers from containers that reject a plain stream copy
func ConvertVideoArgs(path, output string, reencode bool) []string {
	argv := []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path, "-map", "0", "-ignore_unknown"}
	if reencode {
		argv = append(argv, "-c:v", "libx264", "-c:a", "aac",
			"-c:s", subtitleCodec(filepath.Ext(output)))
	} else {
		argv = append(argv, "-c", "copy")
	}
	return append(argv, output)
}

// builds the command for converting an audio file to another format
func ConvertAudioArgs(path, output string) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path, output}
}

// builds the command that cuts one leech part out of a video, copying
// streams and capping the output file size
func SplitVideoArgs(path, output string, startTime, splitSize int64) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1",
		"-ss", fmt.Sprintf("%d", startTime), "-i", path,
		"-fs", fmt.Sprintf("%d", splitSize),
		"-map", "0", "-map_chapters", "-1", "-async", "1",
		"-strict", "-2", "-c", "copy", output}
}

// builds the command that grabs a single frame at timestamp seconds
func ScreenshotArgs(path, output string, timestamp float64) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", timestamp), "-i", path,
		"-frames:v", "1", output}
}

// builds the filter-complex command that concatenates short slices of a
// video into a sample clip: one slice of sliceDuration seconds for each
// entry in offsets
func SampleVideoArgs(path, output string, offsets []float64, sliceDuration float64) []string {
	var filter strings.Builder
	for i, offset := range offsets {
		fmt.Fprintf(&filter, "[0:v]trim=start=%.2f:end=%.2f,setpts=PTS-STARTPTS[v%d];",
			offset, offset+sliceDuration, i)
		fmt.Fprintf(&filter, "[0:a]atrim=start=%.2f:end=%.2f,asetpts=PTS-STARTPTS[a%d];",
			offset, offset+sliceDuration, i)
	}
	for i := range offsets {
		fmt.Fprintf(&filter, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[vout][aout]", len(offsets))
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path,
		"-filter_complex", filter.String(),
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", "libx264", "-c:a", "aac", output}
}

// builds the command that rewrites the title tags on every stream
func MetadataArgs(path, output, title string) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path, "-map", "0", "-c", "copy",
		"-metadata", "title=" + title,
		"-metadata:s:v", "title=" + title,
		"-metadata:s:a", "title=" + title,
		"-metadata:s:s", "title=" + title,
		output}
}

// builds the command that attaches a cover image to a video; the output
// is always an MKV, since attachments are a Matroska feature
func EmbedThumbArgs(path, thumbnail, output string) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path, "-map", "0", "-c", "copy",
		"-attach", thumbnail, "-metadata:s:t", "mimetype=image/jpeg",
		output}
}

// builds the command that renders one tiled contact sheet for a video:
// cols*rows frames sampled every interval seconds, scaled to 320px wide
func TiledThumbArgs(path, output string, cols, rows int, interval float64) []string {
	filter := fmt.Sprintf("fps=1/%g,scale=320:-1,tile=%dx%d", interval, cols, rows)
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", path, "-vf", filter, "-frames:v", "1", output}
}

// maps a watermark corner name to drawtext coordinate expressions
func watermarkPosition(position string) (string, string) {
	switch position {
	case "top-right":
		return "w-tw-10", "10"
	case "bottom-left":
		return "10", "h-th-10"
	case "bottom-right":
		return "w-tw-10", "h-th-10"
	case "center":
		return "(w-tw)/2", "(h-th)/2"
	default: // top-left
		return "10", "10"
	}
}

// builds the drawtext command that burns a text watermark into a video;
// mark fields beyond text fall back to sane defaults when absent
func WatermarkArgs(path, output string, mark map[string]string) []string {
	text := strings.ReplaceAll(mark["text"], "'", `\'`)
	size := mark["size"]
	if size == "" {
		size = "20"
	}
	color := mark["color"]
	if color == "" {
		color = "white"
	}
	opacity := mark["opacity"]
	if opacity == "" {
		opacity = "1.0"
	}
	x, y := watermarkPosition(mark["position"])
	filter := fmt.Sprintf("drawtext=text='%s':fontsize=%s:fontcolor=%s@%s:x=%s:y=%s",
		text, size, color, opacity, x, y)
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-i", path, "-vf", filter,
		"-c:a", "copy", output}
}
