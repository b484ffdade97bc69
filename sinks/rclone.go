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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
)

// this type copies payloads to an rclone remote through a running
// "rclone rcd" daemon
type RcloneUploader struct {
	baseURL string
	client  *retryablehttp.Client
}

func NewRcloneUploader(conf config.DaemonConfig) *RcloneUploader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &RcloneUploader{
		baseURL: strings.TrimSuffix(conf.URL, "/"),
		client:  client,
	}
}

func (u *RcloneUploader) Name() string {
	return "rc"
}

func (u *RcloneUploader) call(ctx context.Context, endpoint string,
	params, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := u.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("the rclone daemon answered with %s", response.Status)
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(result)
}

func (u *RcloneUploader) Upload(ctx context.Context, path string,
	spec Spec) (Result, error) {
	remote, remotePath := splitRemote(spec.RemotePath)
	if remote == "" {
		return Result{}, UploadError{Sink: u.Name(),
			Reason: "no rclone destination was given"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}

	var jobId int64
	if info.IsDir() {
		var job struct {
			JobId int64 `json:"jobid"`
		}
		err = u.call(ctx, "/sync/copy", map[string]any{
			"srcFs":  path,
			"dstFs":  remote + ":" + remotePath + "/" + filepath.Base(path),
			"_async": true,
		}, &job)
		jobId = job.JobId
	} else {
		var job struct {
			JobId int64 `json:"jobid"`
		}
		err = u.call(ctx, "/operations/copyfile", map[string]any{
			"srcFs":     filepath.Dir(path),
			"srcRemote": filepath.Base(path),
			"dstFs":     remote + ":" + remotePath,
			"dstRemote": filepath.Base(path),
			"_async":    true,
		}, &job)
		jobId = job.JobId
	}
	if err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}

	if err := u.awaitJob(ctx, jobId, spec); err != nil {
		return Result{}, UploadError{Sink: u.Name(), Reason: err.Error()}
	}
	link := remote + ":" + strings.TrimSuffix(remotePath+"/"+filepath.Base(path), "/")
	result := Result{Link: link}
	if info.IsDir() {
		result.Folders = 1
	} else {
		result.Files = 1
	}
	return result, nil
}

// polls job/status until the async copy finishes, forwarding transfer
// stats to the progress callback
func (u *RcloneUploader) awaitJob(ctx context.Context, jobId int64, spec Spec) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// ask the daemon to abandon the copy before giving up
			u.call(context.WithoutCancel(ctx), "/job/stop",
				map[string]any{"jobid": jobId}, nil)
			return ctx.Err()
		case <-ticker.C:
		}
		var job struct {
			Finished bool   `json:"finished"`
			Success  bool   `json:"success"`
			Error    string `json:"error"`
		}
		if err := u.call(ctx, "/job/status",
			map[string]any{"jobid": jobId}, &job); err != nil {
			return err
		}
		if spec.Progress != nil {
			var stats struct {
				Bytes      int64 `json:"bytes"`
				TotalBytes int64 `json:"totalBytes"`
			}
			if err := u.call(ctx, "/core/stats", map[string]any{}, &stats); err == nil {
				spec.Progress(stats.Bytes, stats.TotalBytes)
			}
		}
		if job.Finished {
			if !job.Success {
				if job.Error == "" {
					job.Error = "the copy job failed"
				}
				return fmt.Errorf("%s", job.Error)
			}
			return nil
		}
	}
}

// splits "remote:path/inside" into its remote name and path
func splitRemote(destination string) (string, string) {
	remote, path, found := strings.Cut(destination, ":")
	if !found {
		return "", ""
	}
	return remote, strings.TrimSuffix(path, "/")
}
