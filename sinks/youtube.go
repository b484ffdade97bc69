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
	"strings"

	youtube "google.golang.org/api/youtube/v3"
)

// extensions the video host accepts
var youtubeExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true,
	".flv": true, ".3gp": true, ".mpeg": true, ".mpg": true, ".ts": true,
}

// this type publishes video payloads to a YouTube channel as unlisted
// uploads
type YoutubeUploader struct {
	service *youtube.Service
}

func NewYoutubeUploader(service *youtube.Service) *YoutubeUploader {
	return &YoutubeUploader{service: service}
}

func (u *YoutubeUploader) Name() string {
	return "yt"
}

func (u *YoutubeUploader) Upload(ctx context.Context, path string,
	spec Spec) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	if !info.IsDir() {
		link, err := u.uploadVideo(ctx, path)
		if err != nil {
			return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
		}
		return Result{Link: link, Files: 1}, nil
	}

	var landed []string
	link := ""
	files := 0
	err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !youtubeExtensions[strings.ToLower(filepath.Ext(entry))] {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		videoLink, err := u.uploadVideo(ctx, entry)
		if err != nil {
			return err
		}
		if link == "" {
			link = videoLink
		}
		files++
		landed = append(landed, d.Name())
		return nil
	})
	if err != nil {
		if len(landed) > 0 {
			return Result{Link: link, Files: files},
				PartialUploadError{Sink: u.Name(), Landed: landed, Reason: err.Error()}
		}
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	if files == 0 {
		return Result{}, UploadError{Sink: u.Name(),
			Reason: "the payload holds no uploadable videos"}
	}
	return Result{Link: link, Files: files, Folders: 1}, nil
}

func (u *YoutubeUploader) uploadVideo(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{Title: name},
		Status:  &youtube.VideoStatus{PrivacyStatus: "unlisted"},
	}
	inserted, err := u.service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return "https://youtu.be/" + inserted.Id, nil
}
