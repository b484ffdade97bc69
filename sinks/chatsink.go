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
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fetchd/fetchd/chat"
)

// screenshot folders produced by the pipeline; their images go out as
// one media group
const shotsSuffix = "_ss"

// this type uploads payloads back into the chat, file by file
type ChatUploader struct {
	transport chat.Transport
}

func NewChatUploader(transport chat.Transport) *ChatUploader {
	return &ChatUploader{transport: transport}
}

func (u *ChatUploader) Name() string {
	return "chat"
}

func (u *ChatUploader) Upload(ctx context.Context, path string,
	spec Spec) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	if !info.IsDir() {
		if err := u.sendFile(ctx, path, spec); err != nil {
			return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
		}
		return Result{Files: 1, PartsSent: 1}, nil
	}

	var landed []string
	parts, files := 0, 0
	err = walkOrdered(path, func(entry string, isShotsDir bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isShotsDir {
			sent, err := u.sendShots(ctx, entry, spec)
			parts += sent
			files += sent
			if err != nil {
				return err
			}
			landed = append(landed, filepath.Base(entry))
			return nil
		}
		if err := u.sendFile(ctx, entry, spec); err != nil {
			return err
		}
		parts++
		files++
		landed = append(landed, filepath.Base(entry))
		return nil
	})
	if err != nil {
		if len(landed) > 0 {
			return Result{Files: files, PartsSent: parts},
				PartialUploadError{Sink: u.Name(), Landed: landed, Reason: err.Error()}
		}
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	return Result{Files: files, Folders: 1, PartsSent: parts}, nil
}

func (u *ChatUploader) sendFile(ctx context.Context, path string, spec Spec) error {
	caption := spec.Caption
	if caption == "" {
		caption = filepath.Base(path)
	}
	_, err := u.transport.UploadFile(ctx, spec.ChatId, path, caption, spec.AsDocument)
	return err
}

// sends a screenshot folder: the images as one media group, anything
// else inside (the original file travels with its shots) individually
func (u *ChatUploader) sendShots(ctx context.Context, dir string, spec Spec) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var images, others []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			images = append(images, full)
		default:
			others = append(others, full)
		}
	}
	sort.Strings(images)
	sort.Strings(others)
	sent := 0
	for _, other := range others {
		if err := u.sendFile(ctx, other, spec); err != nil {
			return sent, err
		}
		sent++
	}
	if len(images) > 0 {
		messages, err := u.transport.UploadMediaGroup(ctx, spec.ChatId, images,
			spec.Caption)
		sent += len(messages)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// visits every uploadable entry under root in sorted order; screenshot
// folders are visited as a unit instead of file by file
func walkOrdered(root string, visit func(path string, isShotsDir bool) error) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasSuffix(entry.Name(), shotsSuffix) {
				if err := visit(path, true); err != nil {
					return err
				}
				return filepath.SkipDir
			}
			return nil
		}
		return visit(path, false)
	})
}
