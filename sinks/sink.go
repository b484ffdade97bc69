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

// Package sinks defines the upload side of the task lifecycle: one
// uploader per destination kind, registered by name at boot. The
// lifecycle hands a processed payload path to the chosen uploader and
// receives either a link (hosted sinks) or a count of sent parts (the
// chat sink).
package sinks

import "context"

// everything a sink needs to know about one upload
type Spec struct {
	TaskId  string
	ChatId  int64
	Caption string
	// chat sink: force document transmission
	AsDocument bool
	// drive sink: destination folder (falls back to the configured one)
	FolderId string
	// rclone sink: destination remote path and passthrough flags
	RemotePath  string
	RcloneFlags string
	// reports upload progress; may be nil
	Progress func(processed, total int64)
}

// what one finished upload produced
type Result struct {
	// destination link (empty for the chat sink)
	Link string
	// file and folder counts of the uploaded tree
	Files   int
	Folders int
	// chat sink: number of messages sent
	PartsSent int
}

// Uploader moves one processed payload to its destination.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, path string, spec Spec) (Result, error)
}

// registered uploaders, installed at boot before any task runs
var allUploaders = make(map[string]Uploader)

// Register installs an uploader under its destination name.
func Register(name string, uploader Uploader) error {
	if _, found := allUploaders[name]; found {
		return AlreadyRegisteredError{Name: name}
	}
	allUploaders[name] = uploader
	return nil
}

// New returns the uploader registered under the given name.
func New(name string) (Uploader, error) {
	uploader, found := allUploaders[name]
	if !found {
		return nil, NotFoundError{Name: name}
	}
	return uploader, nil
}

// Registered reports whether an uploader exists for the given name.
func Registered(name string) bool {
	_, found := allUploaders[name]
	return found
}

// ClearRegistry empties the uploader table. Used by tests.
func ClearRegistry() {
	allUploaders = make(map[string]Uploader)
}
