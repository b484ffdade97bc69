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

package httpdl

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

type recordingSink struct {
	started  chan struct{}
	complete chan struct{}
	failed   chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		started:  make(chan struct{}, 1),
		complete: make(chan struct{}, 1),
		failed:   make(chan string, 1),
	}
}

func (s *recordingSink) OnDownloadStart()             { s.started <- struct{}{} }
func (s *recordingSink) OnDownloadComplete()          { s.complete <- struct{}{} }
func (s *recordingSink) OnDownloadError(reason string) { s.failed <- reason }

func payload() []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB
}

func rangedServer(t *testing.T) *httptest.Server {
	t.Helper()
	content := payload()
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.ServeContent(w, r, "file.bin", time.Now(), bytes.NewReader(content))
		}))
	t.Cleanup(server.Close)
	return server
}

func newTestDriver(t *testing.T) drivers.Driver {
	t.Helper()
	driver, err := NewDriver(config.DaemonConfig{})
	assert.NoError(t, err)
	return driver
}

func TestSegmentedDownload(t *testing.T) {
	assert := assert.New(t)
	server := rangedServer(t)
	driver := newTestDriver(t)
	sink := newRecordingSink()
	dest := t.TempDir()

	handle, err := driver.Begin(context.Background(), server.URL+"/file.bin",
		dest, drivers.BeginOptions{}, sink)
	assert.NoError(err)

	select {
	case <-sink.complete:
	case reason := <-sink.failed:
		t.Fatalf("download failed: %s", reason)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not finish")
	}

	written, err := os.ReadFile(filepath.Join(dest, "file.bin"))
	assert.NoError(err)
	assert.Equal(payload(), written)

	snapshot, err := driver.Poll(handle)
	assert.NoError(err)
	assert.Equal(drivers.StateDone, snapshot.State)
	assert.Equal(int64(len(payload())), snapshot.Processed)
}

func TestSequentialDownloadWithoutRanges(t *testing.T) {
	assert := assert.New(t)
	content := []byte("small unranged payload")
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			// no Accept-Ranges, no Content-Length on GET
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Write(content)
		}))
	defer server.Close()

	driver := newTestDriver(t)
	sink := newRecordingSink()
	dest := t.TempDir()

	_, err := driver.Begin(context.Background(), server.URL+"/blob",
		dest, drivers.BeginOptions{}, sink)
	assert.NoError(err)

	select {
	case <-sink.complete:
	case reason := <-sink.failed:
		t.Fatalf("download failed: %s", reason)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not finish")
	}

	written, err := os.ReadFile(filepath.Join(dest, "blob"))
	assert.NoError(err)
	assert.Equal(content, written)
}

func TestNameFromContentDisposition(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
			w.Write([]byte("pdf bytes"))
		}))
	defer server.Close()

	driver := newTestDriver(t)
	sink := newRecordingSink()
	dest := t.TempDir()

	handle, err := driver.Begin(context.Background(), server.URL+"/dl?id=9",
		dest, drivers.BeginOptions{}, sink)
	assert.NoError(err)
	<-sink.complete

	snapshot, err := driver.Poll(handle)
	assert.NoError(err)
	assert.Equal("report.pdf", snapshot.Name)
	assert.FileExists(filepath.Join(dest, "report.pdf"))
}

func TestBeginFailsOnHTTPError(t *testing.T) {
	assert := assert.New(t)
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	driver := newTestDriver(t)
	_, err := driver.Begin(context.Background(), server.URL+"/missing",
		t.TempDir(), drivers.BeginOptions{}, newRecordingSink())
	assert.Error(err)
	assert.IsType(drivers.UnreachableError{}, err)
}

func TestCancelKillsTransfer(t *testing.T) {
	assert := assert.New(t)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Write([]byte("partial"))
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
			<-release // hold the connection open
		}))
	defer server.Close()
	defer close(release)

	driver := newTestDriver(t)
	sink := newRecordingSink()
	handle, err := driver.Begin(context.Background(), server.URL+"/slow",
		t.TempDir(), drivers.BeginOptions{}, sink)
	assert.NoError(err)
	<-sink.started

	assert.NoError(driver.Cancel(handle))
	assert.NoError(driver.Cancel(handle)) // idempotent

	select {
	case reason := <-sink.failed:
		assert.Equal("cancelled", reason)
	case <-time.After(10 * time.Second):
		t.Fatal("cancel did not terminate the transfer")
	}
}

func TestPollUnknownHandle(t *testing.T) {
	assert := assert.New(t)
	driver := newTestDriver(t)
	_, err := driver.Poll("http-999")
	assert.Error(err)
	assert.True(strings.Contains(err.Error(), "not found"))
}
