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

import "fmt"

// indicates that one pipeline stage failed; aborts the pipeline
type StageError struct {
	Stage  string
	Reason string
}

func (e StageError) Error() string {
	return fmt.Sprintf("The %s stage failed: %s", e.Stage, e.Reason)
}

// indicates that the pipeline stopped because its task was cancelled
type CancelledError struct{}

func (e CancelledError) Error() string {
	return "The task was cancelled."
}

// indicates that a media file could not be probed
type ProbeError struct {
	Path   string
	Reason string
}

func (e ProbeError) Error() string {
	return fmt.Sprintf("Couldn't probe %s: %s", e.Path, e.Reason)
}

// indicates an archive extension outside the supported set
type NotSupportedExtractorError struct {
	Path string
}

func (e NotSupportedExtractorError) Error() string {
	return fmt.Sprintf("No extractor handles %s.", e.Path)
}
