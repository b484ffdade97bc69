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
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// the exit code reported when a tool was killed by a cancellation
const KilledExitCode = -9

// receives byte-level progress reports from a running tool
type ProgressSink interface {
	Update(processed, total int64)
}

// discards progress reports
type NullSink struct{}

func (NullSink) Update(processed, total int64) {}

// this type runs external media tools (ffmpeg, ffprobe, 7z) so that the
// pipeline stages can be exercised against a scripted substitute in tests
type Runner interface {
	// runs argv to completion, streaming progress to sink, killing the
	// process if cancel closes first; returns the process exit code
	Run(ctx context.Context, argv []string, sink ProgressSink, cancel <-chan struct{}) (int, error)
	// runs argv and captures its standard output (used for ffprobe)
	Output(ctx context.Context, argv []string) ([]byte, int, error)
}

// this type shells out for real; the zero value is ready to use
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, argv []string, sink ProgressSink,
	cancel <-chan struct{}) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	done := make(chan struct{})
	go func() {
		parseProgress(stdout, sink)
		close(done)
	}()

	killed := false
	waitErr := make(chan error, 1)
	go func() { <-done; waitErr <- cmd.Wait() }()
	var err2 error
	select {
	case err2 = <-waitErr:
	case <-cancel:
		killed = true
		cmd.Process.Kill()
		err2 = <-waitErr
	case <-ctx.Done():
		killed = true
		cmd.Process.Kill()
		err2 = <-waitErr
	}
	if killed {
		return KilledExitCode, nil
	}
	if err2 != nil {
		if exitErr, ok := err2.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return KilledExitCode, nil
			}
			return exitErr.ExitCode(), nil
		}
		return -1, err2
	}
	return 0, nil
}

func (r ExecRunner) Output(ctx context.Context, argv []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out, exitErr.ExitCode(), nil
		}
		return nil, -1, err
	}
	return out, 0, nil
}

// reads tool output line by line, recognizing both ffmpeg's -progress
// key=value records and 7z's percentage lines
func parseProgress(reader io.Reader, sink ProgressSink) {
	if sink == nil {
		sink = NullSink{}
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var processed, total int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if key, value, found := strings.Cut(line, "="); found {
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "total_size":
				if n, err := strconv.ParseInt(value, 10, 64); err == nil {
					processed = n
					sink.Update(processed, total)
				}
			case "out_time_ms":
				// keeps the scanner draining even when size is absent
			case "progress":
				if value == "end" {
					sink.Update(processed, total)
				}
			}
			continue
		}
		if percent, ok := sevenZipPercent(line); ok {
			sink.Update(percent, 100)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug(strings.Join([]string{"tool output scan:", err.Error()}, " "))
	}
}

// extracts N from 7z's " 42% 13 + file" status lines
func sevenZipPercent(line string) (int64, bool) {
	index := strings.Index(line, "%")
	if index <= 0 {
		return 0, false
	}
	digits := strings.TrimSpace(line[:index])
	if fields := strings.Fields(digits); len(fields) > 0 {
		digits = fields[len(fields)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// normalizes a user-supplied ffmpeg command: the leading token is
// replaced with the real binary name, and banner/progress switches are
// inserted when missing so that output stays parseable
func RewriteFFmpegArgs(argv []string) []string {
	if len(argv) == 0 {
		return argv
	}
	out := make([]string, 0, len(argv)+6)
	out = append(out, "ffmpeg")
	rest := argv
	switch strings.ToLower(argv[0]) {
	case "ffmpeg", "xtra":
		rest = argv[1:]
	}
	if !contains(rest, "-hide_banner") {
		out = append(out, "-hide_banner")
	}
	if !contains(rest, "-loglevel") {
		out = append(out, "-loglevel", "error")
	}
	if !contains(rest, "-progress") {
		out = append(out, "-progress", "pipe:1")
	}
	return append(out, rest...)
}

func contains(argv []string, flag string) bool {
	for _, arg := range argv {
		if arg == flag {
			return true
		}
	}
	return false
}
