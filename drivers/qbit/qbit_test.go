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

package qbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fetchd/fetchd/config"
	"github.com/fetchd/fetchd/drivers"
)

// a minimal in-memory stand-in for the qBittorrent WebUI
type fakeDaemon struct {
	mutex    sync.Mutex
	password string
	state    string
	added    url.Values
	prio     url.Values
	started  bool
	deleted  bool
}

func (f *fakeDaemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.FormValue("password") != f.password {
			fmt.Fprint(w, "Fails.")
			return
		}
		fmt.Fprint(w, "Ok.")
	})
	mux.HandleFunc("/api/v2/torrents/add", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mutex.Lock()
		f.added = r.PostForm
		f.mutex.Unlock()
		fmt.Fprint(w, "Ok.")
	})
	mux.HandleFunc("/api/v2/torrents/info", func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		state := f.state
		f.mutex.Unlock()
		json.NewEncoder(w).Encode([]map[string]any{{
			"hash":      "cafebabe",
			"name":      "linux.iso",
			"state":     state,
			"size":      int64(4096),
			"completed": int64(1024),
			"dlspeed":   int64(512),
			"eta":       int64(6),
			"num_seeds": 7,
		}})
	})
	mux.HandleFunc("/api/v2/torrents/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"index": 0, "name": "linux.iso", "size": int64(4000), "priority": 1},
			{"index": 1, "name": "README", "size": int64(96), "priority": 1},
		})
	})
	mux.HandleFunc("/api/v2/torrents/filePrio", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mutex.Lock()
		f.prio = r.PostForm
		f.mutex.Unlock()
	})
	mux.HandleFunc("/api/v2/torrents/start", func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		f.started = true
		f.mutex.Unlock()
	})
	mux.HandleFunc("/api/v2/torrents/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		f.deleted = true
		f.mutex.Unlock()
	})
	return mux
}

type nullSink struct{}

func (nullSink) OnDownloadStart()             {}
func (nullSink) OnDownloadComplete()          {}
func (nullSink) OnDownloadError(reason string) {}

func newFakeDriver(t *testing.T, daemon *fakeDaemon) drivers.Driver {
	t.Helper()
	server := httptest.NewServer(daemon.handler())
	t.Cleanup(server.Close)
	driver, err := NewDriver(config.DaemonConfig{
		URL: server.URL, Username: "admin", Password: "adminadmin",
	})
	assert.NoError(t, err)
	return driver
}

func TestBeginAddsAndResolvesHash(t *testing.T) {
	assert := assert.New(t)
	daemon := &fakeDaemon{password: "adminadmin", state: "downloading"}
	driver := newFakeDriver(t, daemon)

	handle, err := driver.Begin(context.Background(), "magnet:?xt=urn:btih:x",
		"/dl/7", drivers.BeginOptions{}, nullSink{})
	assert.NoError(err)
	assert.Equal("cafebabe", handle)

	daemon.mutex.Lock()
	assert.Equal("magnet:?xt=urn:btih:x", daemon.added.Get("urls"))
	assert.Equal("/dl/7", daemon.added.Get("savepath"))
	assert.NotEmpty(daemon.added.Get("tags"))
	daemon.mutex.Unlock()
}

func TestBeginRejectsBadCredentials(t *testing.T) {
	assert := assert.New(t)
	daemon := &fakeDaemon{password: "different"}
	driver := newFakeDriver(t, daemon)

	_, err := driver.Begin(context.Background(), "magnet:?xt=x", "/dl",
		drivers.BeginOptions{}, nullSink{})
	assert.Error(err)
	assert.IsType(drivers.AuthError{}, err)
}

func TestPollMapsDaemonState(t *testing.T) {
	assert := assert.New(t)
	daemon := &fakeDaemon{password: "adminadmin", state: "downloading"}
	driver := newFakeDriver(t, daemon)

	snapshot, err := driver.Poll("cafebabe")
	assert.NoError(err)
	assert.Equal(drivers.StateActive, snapshot.State)
	assert.Equal("linux.iso", snapshot.Name)
	assert.Equal(int64(1024), snapshot.Processed)
	assert.Equal(int64(4096), snapshot.Total)
	assert.Equal(int64(512), snapshot.Speed)
	assert.Equal(6*time.Second, snapshot.Eta)
	assert.Equal(7, snapshot.Seeders)

	daemon.mutex.Lock()
	daemon.state = "stalledUP"
	daemon.mutex.Unlock()
	snapshot, err = driver.Poll("cafebabe")
	assert.NoError(err)
	assert.Equal(drivers.StateSeeding, snapshot.State)

	daemon.mutex.Lock()
	daemon.state = "missingFiles"
	daemon.mutex.Unlock()
	snapshot, err = driver.Poll("cafebabe")
	assert.NoError(err)
	assert.Equal(drivers.StateFailed, snapshot.State)
	assert.NotEmpty(snapshot.Error)
}

func TestCommitSelectionDeprioritizesAndResumes(t *testing.T) {
	assert := assert.New(t)
	daemon := &fakeDaemon{password: "adminadmin", state: "pausedDL"}
	driver := newFakeDriver(t, daemon)

	selector, ok := driver.(drivers.Selector)
	assert.True(ok)
	assert.True(drivers.SupportsSelection(driver))

	assert.NoError(selector.CommitSelection("cafebabe", []int{0}))
	daemon.mutex.Lock()
	assert.Equal("1", daemon.prio.Get("id"))
	assert.Equal("0", daemon.prio.Get("priority"))
	assert.True(daemon.started)
	daemon.mutex.Unlock()
}

func TestCancelDeletesTorrent(t *testing.T) {
	assert := assert.New(t)
	daemon := &fakeDaemon{password: "adminadmin", state: "downloading"}
	driver := newFakeDriver(t, daemon)

	assert.NoError(driver.Cancel("cafebabe"))
	daemon.mutex.Lock()
	assert.True(daemon.deleted)
	daemon.mutex.Unlock()
}
