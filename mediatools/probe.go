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
	"encoding/json"
	"strconv"
	"strings"
)

// one elementary stream as reported by ffprobe
type StreamInfo struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
}

// the subset of ffprobe's report that the pipeline stages consult
type MediaInfo struct {
	Duration float64
	Streams  []StreamInfo
}

func (m MediaInfo) HasStream(codecType string) bool {
	for _, stream := range m.Streams {
		if stream.CodecType == codecType {
			return true
		}
	}
	return false
}

// reports whether any subtitle stream uses an ASS/SSA codec, which
// constrains the container the file can be remuxed into
func (m MediaInfo) HasAssSubtitles() bool {
	for _, stream := range m.Streams {
		if stream.CodecType != "subtitle" {
			continue
		}
		switch strings.ToLower(stream.CodecName) {
		case "ass", "ssa":
			return true
		}
	}
	return false
}

// runs ffprobe on path and decodes its JSON report
func Probe(ctx context.Context, runner Runner, path string) (MediaInfo, error) {
	argv := []string{"ffprobe", "-hide_banner", "-loglevel", "error",
		"-print_format", "json", "-show_format", "-show_streams", path}
	out, code, err := runner.Output(ctx, argv)
	if err != nil {
		return MediaInfo{}, ProbeError{Path: path, Reason: err.Error()}
	}
	if code != 0 {
		return MediaInfo{}, ProbeError{Path: path,
			Reason: "ffprobe exited with code " + strconv.Itoa(code)}
	}
	var report struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []StreamInfo `json:"streams"`
	}
	if err := json.Unmarshal(out, &report); err != nil {
		return MediaInfo{}, ProbeError{Path: path, Reason: err.Error()}
	}
	info := MediaInfo{Streams: report.Streams}
	if report.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(report.Format.Duration, 64); err == nil {
			info.Duration = seconds
		}
	}
	return info, nil
}
