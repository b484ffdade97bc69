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

// Package gdrive implements the cloud-drive download driver on the
// Google Drive v3 API. Unlike the daemon-backed drivers it moves bytes
// itself: files stream through Files.Get, folders are walked and
// recreated locally.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "gdrive"

const folderMime = "application/vnd.google-apps.folder"

func init() {
	drivers.RegisterProvider(driverName, func(conf config.DaemonConfig) (drivers.Driver, error) {
		if service == nil {
			return nil, drivers.UnreachableError{Driver: driverName,
				Reason: "no drive service is installed"}
		}
		return NewDriver(service), nil
	})
}

// installed at boot, after credentials have been read
var service *drive.Service

// SetService installs the API client the provider hands to new drivers.
func SetService(s *drive.Service) {
	service = s
}

// patterns a shared drive link can take
var fileIdRes = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([-\w]+)`),
	regexp.MustCompile(`/folders/([-\w]+)`),
	regexp.MustCompile(`[?&]id=([-\w]+)`),
}

// FileId extracts the drive file ID from a share link. A token with no
// URL shape is taken as a bare ID.
func FileId(link string) (string, error) {
	for _, re := range fileIdRes {
		if match := re.FindStringSubmatch(link); match != nil {
			return match[1], nil
		}
	}
	if regexp.MustCompile(`^[-\w]{20,}$`).MatchString(link) {
		return link, nil
	}
	return "", drivers.InvalidLinkError{Link: link}
}

// one in-flight retrieval
type download struct {
	name      string
	total     int64
	processed atomic.Int64

	mutex     sync.Mutex
	state     drivers.State
	reason    string
	startedAt time.Time
	cancel    context.CancelFunc
	cancelled bool
}

func (dl *download) setState(state drivers.State, reason string) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	if dl.state == drivers.StateFailed || dl.state == drivers.StateDone {
		return
	}
	dl.state = state
	dl.reason = reason
}

// this type retrieves drive files and folder trees to local disk
type Driver struct {
	service *drive.Service

	mutex     sync.Mutex
	downloads map[string]*download
}

func NewDriver(service *drive.Service) *Driver {
	return &Driver{service: service, downloads: make(map[string]*download)}
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	if opts.Select {
		return "", drivers.SelectionUnsupportedError{Driver: driverName}
	}
	fileId, err := FileId(link)
	if err != nil {
		return "", err
	}
	meta, err := d.service.Files.Get(fileId).
		Fields("id", "name", "mimeType", "size").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return "", drivers.InvalidLinkError{Link: link}
		}
		return "", drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}

	total := meta.Size
	if meta.MimeType == folderMime {
		total, err = d.treeSize(ctx, meta.Id)
		if err != nil {
			return "", drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	retrieval := &download{
		name:      meta.Name,
		total:     total,
		state:     drivers.StateActive,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	handle := meta.Id
	d.mutex.Lock()
	d.downloads[handle] = retrieval
	d.mutex.Unlock()

	go d.run(runCtx, retrieval, meta, dest, sink)
	return handle, nil
}

func (d *Driver) run(ctx context.Context, retrieval *download,
	meta *drive.File, dest string, sink drivers.Sink) {
	sink.OnDownloadStart()
	var err error
	if meta.MimeType == folderMime {
		err = d.fetchFolder(ctx, retrieval, meta.Id,
			filepath.Join(dest, meta.Name))
	} else {
		err = d.fetchFile(ctx, retrieval, meta.Id,
			filepath.Join(dest, meta.Name))
	}
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		retrieval.setState(drivers.StateFailed, reason)
		sink.OnDownloadError(reason)
		return
	}
	retrieval.setState(drivers.StateDone, "")
	sink.OnDownloadComplete()
}

func (d *Driver) fetchFile(ctx context.Context, retrieval *download,
	fileId, dest string) error {
	response, err := d.service.Files.Get(fileId).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, &countingReader{reader: response.Body, retrieval: retrieval})
	return err
}

func (d *Driver) fetchFolder(ctx context.Context, retrieval *download,
	folderId, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return d.forEachChild(ctx, folderId, func(child *drive.File) error {
		if child.MimeType == folderMime {
			return d.fetchFolder(ctx, retrieval, child.Id,
				filepath.Join(dest, child.Name))
		}
		return d.fetchFile(ctx, retrieval, child.Id,
			filepath.Join(dest, child.Name))
	})
}

func (d *Driver) forEachChild(ctx context.Context, folderId string,
	visit func(*drive.File) error) error {
	pageToken := ""
	for {
		call := d.service.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", folderId)).
			Fields("nextPageToken", "files(id, name, mimeType, size)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			PageSize(200).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return err
		}
		for _, child := range page.Files {
			if err := visit(child); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (d *Driver) treeSize(ctx context.Context, folderId string) (int64, error) {
	var total int64
	err := d.forEachChild(ctx, folderId, func(child *drive.File) error {
		if child.MimeType == folderMime {
			size, err := d.treeSize(ctx, child.Id)
			total += size
			return err
		}
		total += child.Size
		return nil
	})
	return total, err
}

func (d *Driver) Cancel(handle string) error {
	d.mutex.Lock()
	retrieval, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.UnknownHandleError{Handle: handle}
	}
	retrieval.mutex.Lock()
	alreadyCancelled := retrieval.cancelled
	retrieval.cancelled = true
	retrieval.mutex.Unlock()
	if !alreadyCancelled {
		retrieval.cancel()
	}
	return nil
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	retrieval, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}
	retrieval.mutex.Lock()
	defer retrieval.mutex.Unlock()
	processed := retrieval.processed.Load()
	snapshot := drivers.ProgressSnapshot{
		State:     retrieval.state,
		Name:      retrieval.name,
		Processed: processed,
		Total:     retrieval.total,
		Error:     retrieval.reason,
	}
	elapsed := time.Since(retrieval.startedAt).Seconds()
	if elapsed > 0 {
		snapshot.Speed = int64(float64(processed) / elapsed)
	}
	if snapshot.Speed > 0 && retrieval.total > processed {
		snapshot.Eta = time.Duration((retrieval.total-processed)/snapshot.Speed) * time.Second
	}
	return snapshot, nil
}

// counts bytes as the drive response streams to disk
type countingReader struct {
	reader    io.Reader
	retrieval *download
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.retrieval.processed.Add(int64(n))
	return n, err
}
