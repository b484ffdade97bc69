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

// Package rclone implements the generic sync-daemon driver: downloads
// from any rclone-addressable remote through a running "rclone rcd"
// daemon's HTTP API. Links take the form "remote:path/inside".
package rclone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "rclone"

func init() {
	drivers.RegisterProvider(driverName, func(conf config.DaemonConfig) (drivers.Driver, error) {
		return NewDriver(conf), nil
	})
}

// one async copy job the daemon is running for us
type download struct {
	jobId     int64
	name      string
	cancel    context.CancelFunc
	cancelled bool
}

// this type pulls payloads from rclone remotes to local disk
type Driver struct {
	baseURL string
	client  *retryablehttp.Client

	mutex     sync.Mutex
	downloads map[string]*download
}

func NewDriver(conf config.DaemonConfig) *Driver {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Driver{
		baseURL:   strings.TrimSuffix(conf.URL, "/"),
		client:    client,
		downloads: make(map[string]*download),
	}
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) call(ctx context.Context, endpoint string, params, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := d.client.Do(request)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return drivers.UnreachableError{Driver: driverName,
			Reason: fmt.Sprintf("the daemon answered with %s", response.Status)}
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(result)
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	if opts.Select {
		return "", drivers.SelectionUnsupportedError{Driver: driverName}
	}
	remote, remotePath, found := strings.Cut(link, ":")
	if !found || remote == "" {
		return "", drivers.InvalidLinkError{Link: link}
	}
	remotePath = strings.TrimSuffix(remotePath, "/")
	name := path.Base(remotePath)

	// a trailing path element with an extension is copied as one file,
	// anything else as a directory tree
	var job struct {
		JobId int64 `json:"jobid"`
	}
	var err error
	if path.Ext(remotePath) != "" {
		err = d.call(ctx, "/operations/copyfile", map[string]any{
			"srcFs":     remote + ":" + path.Dir(remotePath),
			"srcRemote": name,
			"dstFs":     dest,
			"dstRemote": name,
			"_async":    true,
		}, &job)
	} else {
		err = d.call(ctx, "/sync/copy", map[string]any{
			"srcFs":  link,
			"dstFs":  dest + "/" + name,
			"_async": true,
		}, &job)
	}
	if err != nil {
		return "", err
	}

	handle := strconv.FormatInt(job.JobId, 10)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mutex.Lock()
	d.downloads[handle] = &download{jobId: job.JobId, name: name, cancel: cancel}
	d.mutex.Unlock()

	go drivers.Watch(runCtx, d, handle, sink, time.Second)
	return handle, nil
}

func (d *Driver) Cancel(handle string) error {
	d.mutex.Lock()
	retrieval, found := d.downloads[handle]
	if !found {
		d.mutex.Unlock()
		return drivers.UnknownHandleError{Handle: handle}
	}
	alreadyCancelled := retrieval.cancelled
	retrieval.cancelled = true
	d.mutex.Unlock()
	if alreadyCancelled {
		return nil
	}
	retrieval.cancel()
	return d.call(context.Background(), "/job/stop",
		map[string]any{"jobid": retrieval.jobId}, nil)
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	retrieval, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}

	var job struct {
		Finished bool   `json:"finished"`
		Success  bool   `json:"success"`
		Error    string `json:"error"`
	}
	err := d.call(context.Background(), "/job/status",
		map[string]any{"jobid": retrieval.jobId}, &job)
	if err != nil {
		return drivers.ProgressSnapshot{}, err
	}
	snapshot := drivers.ProgressSnapshot{Name: retrieval.name}
	if job.Finished {
		if job.Success {
			snapshot.State = drivers.StateDone
		} else {
			snapshot.State = drivers.StateFailed
			snapshot.Error = job.Error
			if snapshot.Error == "" {
				snapshot.Error = "the copy job failed"
			}
		}
		return snapshot, nil
	}

	snapshot.State = drivers.StateActive
	var stats struct {
		Bytes      int64   `json:"bytes"`
		TotalBytes int64   `json:"totalBytes"`
		Speed      float64 `json:"speed"`
		Eta        float64 `json:"eta"`
	}
	if err := d.call(context.Background(), "/core/stats",
		map[string]any{}, &stats); err == nil {
		snapshot.Processed = stats.Bytes
		snapshot.Total = stats.TotalBytes
		snapshot.Speed = int64(stats.Speed)
		snapshot.Eta = time.Duration(stats.Eta) * time.Second
	}
	return snapshot, nil
}
