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

package sinks

import (
	"fmt"
	"strings"
)

// indicates an upload destination with no registered uploader
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No uploader is registered under the name %s.", e.Name)
}

// indicates an attempt to register an uploader name twice
type AlreadyRegisteredError struct {
	Name string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("An uploader is already registered under the name %s.", e.Name)
}

// indicates a terminal sink failure with nothing landed
type UploadError struct {
	Sink   string
	Reason string
}

func (e UploadError) Error() string {
	return fmt.Sprintf("Upload to %s failed: %s", e.Sink, e.Reason)
}

// indicates a sink failure after some items already landed; the landed
// items are enumerated so the completion notice can list them
type PartialUploadError struct {
	Sink   string
	Landed []string
	Reason string
}

func (e PartialUploadError) Error() string {
	return fmt.Sprintf("Upload to %s failed after %d items (%s): %s",
		e.Sink, len(e.Landed), strings.Join(e.Landed, ", "), e.Reason)
}
