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

// Package httpdl retrieves direct HTTP(S) links. Servers that advertise
// byte ranges get a segmented download with several connections writing
// into one preallocated file; everything else streams sequentially.
package httpdl

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

const driverName = "http"

// connections used for a segmented download
const segments = 4

func init() {
	drivers.RegisterProvider(driverName, NewDriver)
}

type download struct {
	link      string
	dest      string
	name      string
	total     int64
	processed atomic.Int64
	startedAt time.Time
	cancel    context.CancelFunc
	mutex     sync.Mutex
	state     drivers.State
	errText   string
}

func (dl *download) setState(state drivers.State, errText string) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.state = state
	dl.errText = errText
}

// this type implements the Driver interface over plain HTTP links
type Driver struct {
	client    *retryablehttp.Client
	mutex     sync.Mutex
	downloads map[string]*download
	nextId    atomic.Int64
}

func NewDriver(conf config.DaemonConfig) (drivers.Driver, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Driver{
		client:    client,
		downloads: make(map[string]*download),
	}, nil
}

func (d *Driver) Name() string {
	return driverName
}

func (d *Driver) Begin(ctx context.Context, link, dest string,
	opts drivers.BeginOptions, sink drivers.Sink) (string, error) {
	name, total, ranged, err := d.inspect(ctx, link, opts)
	if err != nil {
		return "", drivers.UnreachableError{Driver: driverName, Reason: err.Error()}
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dl := &download{
		link:      link,
		dest:      dest,
		name:      name,
		total:     total,
		startedAt: time.Now(),
		cancel:    cancel,
		state:     drivers.StateActive,
	}
	handle := fmt.Sprintf("%s-%d", driverName, d.nextId.Add(1))
	d.mutex.Lock()
	d.downloads[handle] = dl
	d.mutex.Unlock()

	go d.run(runCtx, dl, opts, sink, ranged)
	return handle, nil
}

// issues a HEAD to learn the payload name, size, and range support
func (d *Driver) inspect(ctx context.Context, link string,
	opts drivers.BeginOptions) (string, int64, bool, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return "", 0, false, err
	}
	applyAuth(request, opts)
	response, err := d.client.Do(request)
	if err != nil {
		return "", 0, false, err
	}
	defer response.Body.Close()
	if response.StatusCode >= 400 {
		return "", 0, false, fmt.Errorf("the server answered with %s", response.Status)
	}
	name := nameFromResponse(response, link)
	ranged := response.Header.Get("Accept-Ranges") == "bytes"
	return name, response.ContentLength, ranged && response.ContentLength > 0, nil
}

func applyAuth(request *retryablehttp.Request, opts drivers.BeginOptions) {
	if opts.Username != "" || opts.Password != "" {
		request.SetBasicAuth(opts.Username, opts.Password)
	}
	for key, value := range opts.Headers {
		request.Header.Set(key, value)
	}
}

// derives the file name from Content-Disposition, falling back to the
// final URL path segment
func nameFromResponse(response *http.Response, link string) string {
	if disposition := response.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if filename := params["filename"]; filename != "" {
				return path.Base(filename)
			}
		}
	}
	target := link
	if response.Request != nil && response.Request.URL != nil {
		target = response.Request.URL.Path
	}
	name := path.Base(strings.SplitN(target, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "download.bin"
	}
	return name
}

func (d *Driver) run(ctx context.Context, dl *download,
	opts drivers.BeginOptions, sink drivers.Sink, ranged bool) {
	sink.OnDownloadStart()
	target := filepath.Join(dl.dest, dl.name)
	if err := os.MkdirAll(dl.dest, 0o755); err != nil {
		dl.setState(drivers.StateFailed, err.Error())
		sink.OnDownloadError(err.Error())
		return
	}
	var err error
	if ranged {
		err = d.fetchSegmented(ctx, dl, opts, target)
	} else {
		err = d.fetchSequential(ctx, dl, opts, target)
	}
	if err != nil {
		os.Remove(target)
		if ctx.Err() != nil {
			dl.setState(drivers.StateFailed, "cancelled")
			sink.OnDownloadError("cancelled")
			return
		}
		dl.setState(drivers.StateFailed, err.Error())
		sink.OnDownloadError(err.Error())
		return
	}
	dl.setState(drivers.StateDone, "")
	sink.OnDownloadComplete()
}

// streams the payload through one connection
func (d *Driver) fetchSequential(ctx context.Context, dl *download,
	opts drivers.BeginOptions, target string) error {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, dl.link, nil)
	if err != nil {
		return err
	}
	applyAuth(request, opts)
	response, err := d.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 400 {
		return fmt.Errorf("the server answered with %s", response.Status)
	}
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, &countingReader{reader: response.Body, counter: &dl.processed})
	return err
}

// splits the payload into ranges fetched concurrently, each writing at
// its own offset in a preallocated file
func (d *Driver) fetchSegmented(ctx context.Context, dl *download,
	opts drivers.BeginOptions, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := file.Truncate(dl.total); err != nil {
		return err
	}

	segmentSize := dl.total / segments
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < segments; i++ {
		first := int64(i) * segmentSize
		last := first + segmentSize - 1
		if i == segments-1 {
			last = dl.total - 1
		}
		group.Go(func() error {
			request, err := retryablehttp.NewRequestWithContext(groupCtx,
				http.MethodGet, dl.link, nil)
			if err != nil {
				return err
			}
			applyAuth(request, opts)
			request.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))
			response, err := d.client.Do(request)
			if err != nil {
				return err
			}
			defer response.Body.Close()
			if response.StatusCode != http.StatusPartialContent {
				return fmt.Errorf("the server ignored the range request (%s)",
					response.Status)
			}
			_, err = io.Copy(
				&offsetWriter{file: file, offset: first, counter: &dl.processed},
				response.Body)
			return err
		})
	}
	return group.Wait()
}

func (d *Driver) Cancel(handle string) error {
	d.mutex.Lock()
	dl, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return nil // already gone; cancel is idempotent
	}
	dl.cancel()
	return nil
}

func (d *Driver) Poll(handle string) (drivers.ProgressSnapshot, error) {
	d.mutex.Lock()
	dl, found := d.downloads[handle]
	d.mutex.Unlock()
	if !found {
		return drivers.ProgressSnapshot{}, drivers.UnknownHandleError{Handle: handle}
	}
	dl.mutex.Lock()
	state, errText := dl.state, dl.errText
	dl.mutex.Unlock()
	processed := dl.processed.Load()
	elapsed := time.Since(dl.startedAt).Seconds()
	var speed int64
	if elapsed > 0 {
		speed = int64(float64(processed) / elapsed)
	}
	var eta time.Duration
	if speed > 0 && dl.total > processed {
		eta = time.Duration((dl.total-processed)/speed) * time.Second
	}
	return drivers.ProgressSnapshot{
		State:     state,
		Name:      dl.name,
		Processed: processed,
		Total:     dl.total,
		Speed:     speed,
		Eta:       eta,
		Error:     errText,
	}, nil
}

type countingReader struct {
	reader  io.Reader
	counter *atomic.Int64
}

func (r *countingReader) Read(buffer []byte) (int, error) {
	n, err := r.reader.Read(buffer)
	r.counter.Add(int64(n))
	return n, err
}

type offsetWriter struct {
	file    *os.File
	offset  int64
	counter *atomic.Int64
}

func (w *offsetWriter) Write(buffer []byte) (int, error) {
	n, err := w.file.WriteAt(buffer, w.offset)
	w.offset += int64(n)
	w.counter.Add(int64(n))
	return n, err
}
