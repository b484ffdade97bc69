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
	"fmt"
	"strings"

	"github.com/fetchd/fetchd/mediatools"
)

// how the downloaded inputs get stitched together
type Mode int

const (
	// stream copy through the concat protocol; valid when every input
	// shares codec parameters
	ModeConcat Mode = iota
	// re-encode through a concat filter; valid for simple one-video
	// one-audio inputs
	ModeConcatDemux
	// anything else falls back to the demux path as well
	ModeComplex
)

func (mode Mode) String() string {
	switch mode {
	case ModeConcat:
		return "concat"
	case ModeConcatDemux:
		return "concat-demux"
	default:
		return "complex"
	}
}

// inspects the probed inputs and picks the cheapest mode that can
// stitch them
func ChooseMode(infos []mediatools.MediaInfo) Mode {
	if sameCodecParameters(infos) {
		return ModeConcat
	}
	if simpleAudioVideo(infos) {
		return ModeConcatDemux
	}
	return ModeComplex
}

func sameCodecParameters(infos []mediatools.MediaInfo) bool {
	if len(infos) == 0 {
		return false
	}
	reference := codecSignature(infos[0])
	for _, info := range infos[1:] {
		if codecSignature(info) != reference {
			return false
		}
	}
	return true
}

func codecSignature(info mediatools.MediaInfo) string {
	var parts []string
	for _, stream := range info.Streams {
		parts = append(parts, stream.CodecType+":"+stream.CodecName)
	}
	return strings.Join(parts, ",")
}

func simpleAudioVideo(infos []mediatools.MediaInfo) bool {
	for _, info := range infos {
		video, audio, other := 0, 0, 0
		for _, stream := range info.Streams {
			switch stream.CodecType {
			case "video":
				video++
			case "audio":
				audio++
			default:
				other++
			}
		}
		if video != 1 || audio > 1 || other > 0 {
			return false
		}
	}
	return true
}

// renders the concat-protocol input list: one "file" directive per
// absolute input path, in merge order
func ConcatListFile(paths []string) string {
	var list strings.Builder
	for _, path := range paths {
		escaped := strings.ReplaceAll(path, "'", `'\''`)
		fmt.Fprintf(&list, "file '%s'\n", escaped)
	}
	return list.String()
}

// builds the ffmpeg invocation for a stream-copy concat merge
func ConcatArgs(listPath, output string) []string {
	return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-f", "concat", "-safe", "0",
		"-i", listPath, "-map", "0", "-c", "copy", output}
}

// builds the ffmpeg invocation that re-encodes the inputs through a
// concat filter; used by both the demux and complex modes
func DemuxArgs(paths []string, output string) []string {
	argv := []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1"}
	for _, path := range paths {
		argv = append(argv, "-i", path)
	}
	var filter strings.Builder
	for i := range paths {
		fmt.Fprintf(&filter, "[%d:v:0][%d:a:0]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[vout][aout]", len(paths))
	return append(argv, "-filter_complex", filter.String(),
		"-map", "[vout]", "-map", "[aout]",
		"-c:v", "libx264", "-c:a", "aac", output)
}

// builds the invocation for the chosen mode; concat first writes its
// list file through the caller
func Args(mode Mode, paths []string, listPath, output string) []string {
	if mode == ModeConcat {
		return ConcatArgs(listPath, output)
	}
	return DemuxArgs(paths, output)
}
