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
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

// this type pushes payloads to the gofile.io file host
type GofileUploader struct {
	apiBase string
	token   string
	client  *retryablehttp.Client
}

func NewGofileUploader(token string) *GofileUploader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &GofileUploader{
		apiBase: "https://api.gofile.io",
		token:   token,
		client:  client,
	}
}

func (u *GofileUploader) Name() string {
	return "gofile"
}

// asks the API which storage server accepts uploads right now
func (u *GofileUploader) pickServer(ctx context.Context) (string, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		u.apiBase+"/servers", nil)
	if err != nil {
		return "", err
	}
	response, err := u.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	var decoded struct {
		Status string `json:"status"`
		Data   struct {
			Servers []struct {
				Name string `json:"name"`
			} `json:"servers"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Status != "ok" || len(decoded.Data.Servers) == 0 {
		return "", fmt.Errorf("no upload server is available")
	}
	return decoded.Data.Servers[0].Name, nil
}

func (u *GofileUploader) Upload(ctx context.Context, path string,
	spec Spec) (Result, error) {
	server, err := u.pickServer(ctx)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}

	if !info.IsDir() {
		link, err := u.uploadFile(ctx, server, path, "")
		if err != nil {
			return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
		}
		return Result{Link: link, Files: 1}, nil
	}

	// files land in one shared folder so a single link covers the tree
	var landed []string
	link, folderId := "", ""
	files := 0
	err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		pageLink, err := u.uploadFile(ctx, server, entry, folderId)
		if err != nil {
			return err
		}
		if folderId == "" {
			link = pageLink
			folderId = folderIdFromLink(pageLink)
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
	return Result{Link: link, Files: files, Folders: 1}, nil
}

func (u *GofileUploader) uploadFile(ctx context.Context, server, path,
	folderId string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		defer writer.Close()
		defer form.Close()
		if u.token != "" {
			form.WriteField("token", u.token)
		}
		if folderId != "" {
			form.WriteField("folderId", folderId)
		}
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			writer.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			writer.CloseWithError(err)
		}
	}()

	target := fmt.Sprintf("https://%s.gofile.io/contents/uploadfile", server)
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		target, reader)
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", form.FormDataContentType())
	response, err := u.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	var decoded struct {
		Status string `json:"status"`
		Data   struct {
			DownloadPage string `json:"downloadPage"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Status != "ok" {
		return "", fmt.Errorf("the host answered with status %q", decoded.Status)
	}
	return decoded.Data.DownloadPage, nil
}

// the download page ends with the folder code
func folderIdFromLink(link string) string {
	return filepath.Base(link)
}
