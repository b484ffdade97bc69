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

// Package jdown implements the link-resolver driver on top of a local
// JDownloader instance's HTTP API. The resolver turns premium-host and
// container links into direct downloads; the daemon owns the transfer
// loop, so the driver only enqueues, polls, and cancels.
package jdown

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "jdownloader"

func init() {
	drivers.RegisterProvider(driverName, func(conf config.DaemonConfig) (drivers.Driver, error) {
		return NewDriver(conf)
	})
}

// one enqueued link-grabber package
type download struct {
	packageId int64
	dest      string
	cancel    context.CancelFunc
	cancelled bool
}

// this type drives retrievals through a JDownloader daemon
type Driver struct {
	base   string
	client *retryablehttp.Client

	mutex     sync.Mutex
	downloads map[string]*download
}

func NewDriver(conf config.DaemonConfig) (*Driver, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Driver{
		base:      conf.URL,
		client:    client,
		downloads: make(map[string]*download),
	}, nil
}

func (d *Driver) Name() string {
	return driverName
}

// call posts params to an API endpoint and decodes the "data" envelope
// into result (which may be nil)
func (d *Driver) call(ctx context.Context, endpoint string, params []any,
	result any) error {
	body, err := json.Marshal(map[string]any{"params": params})
	if err != nil {
		return err
	}
	request, err := retryablehttp.NewRequestWithContext(ctx, "POST",
		d.base+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := d.client.Do(request)
	if err != nil {
		return drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode == 401 || response.StatusCode == 403 {
		return drivers.AuthError{Driver: driverName}
	}
	if response.StatusCode != 200 {
		return drivers.UnreachableError{Driver: driverName,
			Reason: fmt.Sprintf("status %d from %s", response.StatusCode, endpoint)}
	}
	if result == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, result)
}

// one package as reported by the downloads view
type packageStatus struct {
	Uuid        int64  `json:"uuid"`
	Name        string `json:"name"`
	BytesTotal  int64  `json:"bytesTotal"`
	BytesLoaded int64  `json:"bytesLoaded"`
	Speed       int64  `json:"speed"`
	Eta         int64  `json:"eta"`
	Finished    bool   `json:"finished"`
	Status      string `json:"status"`
}

var packageQuery = map[string]any{
	"bytesTotal": true, "bytesLoaded": true, "speed": true, "eta": true,
	"finished": true, "status": true, "saveTo": true,
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	if opts.Select {
		return "", drivers.SelectionUnsupportedError{Driver: driverName}
	}

	var added struct {
		Id int64 `json:"id"`
	}
	addParams := map[string]any{
		"links":             link,
		"destinationFolder": dest,
		"autostart":         true,
		"overwritePackagizerRules": true,
	}
	if opts.Password != "" {
		addParams["downloadPassword"] = opts.Password
	}
	err := d.call(ctx, "/linkgrabberv2/addLinks", []any{addParams}, &added)
	if err != nil {
		return "", err
	}

	// the grabber resolves asynchronously; wait for the package to show
	// up in the downloads view before watching it
	packageId, err := d.resolvePackage(ctx, added.Id)
	if err != nil {
		return "", err
	}

	handle := strconv.FormatInt(packageId, 10)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mutex.Lock()
	d.downloads[handle] = &download{packageId: packageId, dest: dest, cancel: cancel}
	d.mutex.Unlock()

	go drivers.Watch(runCtx, d, handle, sink, 2*time.Second)
	return handle, nil
}

// resolvePackage waits for the grabber job to materialize as a downloads
// package, moving it over if the grabber holds it
func (d *Driver) resolvePackage(ctx context.Context, jobId int64) (int64, error) {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		var grabbed []struct {
			Uuid int64 `json:"uuid"`
		}
		query := map[string]any{"jobUUIDs": []int64{jobId}}
		if err := d.call(ctx, "/linkgrabberv2/queryPackages", []any{query},
			&grabbed); err != nil {
			return 0, err
		}
		if len(grabbed) > 0 {
			err := d.call(ctx, "/linkgrabberv2/moveToDownloadlist",
				[]any{[]int64{}, []int64{grabbed[0].Uuid}}, nil)
			if err != nil {
				return 0, err
			}
			return grabbed[0].Uuid, nil
		}
		// already moved by autostart
		var moved []packageStatus
		if err := d.call(ctx, "/downloadsV2/queryPackages",
			[]any{packageQuery}, &moved); err != nil {
			return 0, err
		}
		for _, pkg := range moved {
			if pkg.Uuid == jobId {
				return pkg.Uuid, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return 0, drivers.InvalidLinkError{Link: strconv.FormatInt(jobId, 10)}
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
	return d.call(context.Background(), "/downloadsV2/removeLinks",
		[]any{[]int64{}, []int64{retrieval.packageId}}, nil)
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	retrieval, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}

	var packages []packageStatus
	err := d.call(context.Background(), "/downloadsV2/queryPackages",
		[]any{packageQuery}, &packages)
	if err != nil {
		return drivers.ProgressSnapshot{}, err
	}
	for _, pkg := range packages {
		if pkg.Uuid != retrieval.packageId {
			continue
		}
		snapshot := drivers.ProgressSnapshot{
			Name:      pkg.Name,
			Processed: pkg.BytesLoaded,
			Total:     pkg.BytesTotal,
			Speed:     pkg.Speed,
		}
		if pkg.Eta > 0 {
			snapshot.Eta = time.Duration(pkg.Eta) * time.Second
		}
		switch {
		case pkg.Finished:
			snapshot.State = drivers.StateDone
		case pkg.Status == "Aborted" || pkg.Status == "Failed":
			snapshot.State = drivers.StateFailed
			snapshot.Error = pkg.Status
		case pkg.BytesTotal == 0:
			snapshot.State = drivers.StateMetadata
		default:
			snapshot.State = drivers.StateActive
		}
		return snapshot, nil
	}
	return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
}
